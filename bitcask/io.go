package bitcask

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
)

// writer wraps an *os.File with an internal buffer and an absolute byte
// position. pos is the offset of the next byte to be written once the
// buffer is flushed to the OS — this is the value the engine stores as
// v_pos in directory entries and hint records.
type writer struct {
	f       *os.File
	bw      *bufio.Writer
	pos     int64 // absolute offset of the next unwritten byte
	flushed int64 // pos value as of the last successful flush
}

// newWriter opens path for read+write (creating it if absent) and seeks to
// its current end, which becomes the initial pos.
func newWriter(path string) (*writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &writer{f: f, bw: bufio.NewWriter(f), pos: end, flushed: end}, nil
}

// write appends p to the buffer and advances pos. The bytes are not
// guaranteed durable until flush is called.
func (w *writer) write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	w.pos += int64(n)
	return n, err
}

// unflushed reports how many bytes have been written since the last flush
// call. A write larger than the free buffer space may already have passed
// some of them to the OS.
func (w *writer) unflushed() int64 {
	return w.pos - w.flushed
}

// flush hands all buffered bytes to the OS. It does not fsync; callers that
// need durability across a process crash call sync instead.
func (w *writer) flush() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	w.flushed = w.pos
	return nil
}

// sync flushes and fsyncs the underlying file.
func (w *writer) sync() error {
	if err := w.flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// close flushes any buffered bytes and closes the file.
func (w *writer) close() error {
	if err := w.flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// reader is a buffered, forward-only scanning handle over a segment file,
// used during recovery and merge. It never touches the file's own offset;
// it tracks its own pos so the same segment can be scanned independently
// of concurrent point reads.
type reader struct {
	f   *os.File
	br  *bufio.Reader
	pos int64
}

// newReader wraps f for sequential scanning from offset 0.
func newReader(f *os.File) *reader {
	const maxInt64 = 1<<63 - 1
	sr := io.NewSectionReader(f, 0, maxInt64)
	return &reader{f: f, br: bufio.NewReader(sr)}
}

// readU64 reads a big-endian uint64. A clean EOF (nothing at all read)
// returns io.EOF; a short read mid-value returns io.ErrUnexpectedEOF.
func (r *reader) readU64() (uint64, error) {
	var hdr [8]byte

	n, err := io.ReadFull(r.br, hdr[:])
	r.pos += int64(n)
	if err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, io.ErrUnexpectedEOF
	}

	return binary.BigEndian.Uint64(hdr[:]), nil
}

// readFull reads exactly len(p) bytes, returning io.ErrUnexpectedEOF on any
// short read.
func (r *reader) readFull(p []byte) error {
	n, err := io.ReadFull(r.br, p)
	r.pos += int64(n)
	if err != nil {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (r *reader) close() error {
	return r.f.Close()
}
