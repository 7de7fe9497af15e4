// Package server runs the TCP front door over a bitcask/sledstore
// engine, grounded on the original program's server.rs: accept loop,
// one goroutine per connection, frame-in/frame-out dispatch.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/aurorakv/kvs/engine"
	"github.com/aurorakv/kvs/internal/protocol"
)

// Server accepts connections on a listener and dispatches frames
// against a shared engine.
type Server struct {
	ln  net.Listener
	kv  engine.Engine
	log *zap.Logger
}

// New wraps an already-bound listener. The caller is responsible for
// closing ln (Serve does not close it on return).
func New(ln net.Listener, kv engine.Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{ln: ln, kv: kv, log: log}
}

// Serve accepts connections until the listener is closed (returning nil)
// or Accept fails with any other error, which it returns.
func (s *Server) Serve() error {
	s.log.Info("server start to receive connections", zap.String("addr", s.ln.Addr().String()))

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.log.Info("accepted connection", zap.String("remote", conn.RemoteAddr().String()))
		go s.handle(conn)
	}
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()

	conn := protocol.NewConn(c)
	for {
		req, err := conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Error("read frame failed", zap.Error(err))
			}
			return
		}

		resp := s.dispatch(req)

		if err := conn.WriteFrame(resp); err != nil {
			s.log.Error("write frame failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(req protocol.Frame) protocol.Frame {
	switch req.Op {
	case protocol.OpSet:
		if err := s.kv.Set(req.Key, req.Value); err != nil {
			s.log.Warn("set failed", zap.String("key", req.Key), zap.Error(err))
			return protocol.ErrorFrame(err.Error())
		}
		return protocol.Null()

	case protocol.OpGet:
		v, ok, err := s.kv.Get(req.Key)
		if err != nil {
			s.log.Warn("get failed", zap.String("key", req.Key), zap.Error(err))
			return protocol.ErrorFrame(err.Error())
		}
		if !ok {
			return protocol.Null()
		}
		return protocol.Value(v)

	case protocol.OpRemove:
		if err := s.kv.Remove(req.Key); err != nil {
			s.log.Warn("remove failed", zap.String("key", req.Key), zap.Error(err))
			return protocol.ErrorFrame(err.Error())
		}
		return protocol.Null()

	default:
		s.log.Warn("unexpected frame received", zap.Int("op", int(req.Op)))
		return protocol.ErrorFrame(fmt.Sprintf("unexpected frame: op=%d", req.Op))
	}
}
