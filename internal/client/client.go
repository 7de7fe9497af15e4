// Package client implements the network client half of the wire
// protocol, grounded on the original program's client.rs: one
// connection, one request/response pair per call.
package client

import (
	"fmt"
	"net"

	"github.com/aurorakv/kvs/internal/protocol"
)

// Client issues Set/Get/Remove requests over a single TCP connection.
type Client struct {
	conn *protocol.Conn
	nc   net.Conn
}

// Dial connects to addr and returns a ready Client.
func Dial(addr string) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: protocol.NewConn(nc), nc: nc}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.nc.Close()
}

// Set stores key=value.
func (c *Client) Set(key, value string) error {
	if err := c.conn.WriteFrame(protocol.Set(key, value)); err != nil {
		return fmt.Errorf("write set frame: %w", err)
	}

	resp, err := c.conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("read set response: %w", err)
	}

	switch resp.Op {
	case protocol.OpNull:
		return nil
	case protocol.OpError:
		return fmt.Errorf("server error: %s", resp.Value)
	default:
		return fmt.Errorf("%w: unexpected response op=%d", protocol.ErrUnexpected, resp.Op)
	}
}

// Get fetches key, reporting ok=false if the server has no value for it.
func (c *Client) Get(key string) (string, bool, error) {
	if err := c.conn.WriteFrame(protocol.Get(key)); err != nil {
		return "", false, fmt.Errorf("write get frame: %w", err)
	}

	resp, err := c.conn.ReadFrame()
	if err != nil {
		return "", false, fmt.Errorf("read get response: %w", err)
	}

	switch resp.Op {
	case protocol.OpValue:
		return resp.Value, true, nil
	case protocol.OpNull:
		return "", false, nil
	case protocol.OpError:
		return "", false, fmt.Errorf("server error: %s", resp.Value)
	default:
		return "", false, fmt.Errorf("%w: unexpected response op=%d", protocol.ErrUnexpected, resp.Op)
	}
}

// Remove deletes key.
func (c *Client) Remove(key string) error {
	if err := c.conn.WriteFrame(protocol.Remove(key)); err != nil {
		return fmt.Errorf("write remove frame: %w", err)
	}

	resp, err := c.conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("read remove response: %w", err)
	}

	switch resp.Op {
	case protocol.OpNull:
		return nil
	case protocol.OpError:
		return fmt.Errorf("server error: %s", resp.Value)
	default:
		return fmt.Errorf("%w: unexpected response op=%d", protocol.ErrUnexpected, resp.Op)
	}
}
