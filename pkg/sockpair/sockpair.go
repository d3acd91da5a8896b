// Package sockpair provides a connected pair of OS-level duplex stream
// endpoints, wrapped so that blocking-style code can drive one end while
// another concurrency domain drives the other.
package sockpair

import (
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// New returns both ends of a connected AF_UNIX stream socket pair.
// The endpoints are real file descriptors, so either end can be handed to
// code expecting an ordinary socket.
func New() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "socketpair")
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	c1, err := fdConn(fds[0])
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	c2, err := fdConn(fds[1])
	if err != nil {
		c1.Close()
		return nil, nil, err
	}
	return Wrap(c1), Wrap(c2), nil
}

func fdConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "sockpair")
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, errors.Wrap(err, "converting fd to net.Conn")
	}
	return c, nil
}

// Socket wraps a net.Conn with per-direction I/O locks, per-call timeouts,
// and a transaction lock for scoping a whole request/response exchange.
//
// The per-call timeout is measured against a single deadline computed when
// the call starts, so time spent in partial transfers counts against it.
type Socket struct {
	conn net.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex
	txMu    sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Wrap wraps an existing connection. Most callers want New.
func Wrap(conn net.Conn) *Socket {
	return &Socket{conn: conn}
}

// ReadFull reads exactly len(buf) bytes.
// A timeout of zero blocks until the read completes or the socket breaks.
func (s *Socket) ReadFull(buf []byte, timeout time.Duration) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return errors.Wrap(err, "setting read deadline")
		}
		defer s.conn.SetReadDeadline(time.Time{})
	}
	_, err := io.ReadFull(s.conn, buf)
	return err
}

// WriteFull writes all of data.
// A timeout of zero blocks until the write completes or the socket breaks.
func (s *Socket) WriteFull(data []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return errors.Wrap(err, "setting write deadline")
		}
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	_, err := s.conn.Write(data)
	return err
}

// Do runs fn while holding the transaction lock, keeping a multi-step
// exchange exclusive with respect to other transactions on this endpoint.
// Calls to Do must not nest.
func (s *Socket) Do(fn func() error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn()
}

// Read performs a single read, like net.Conn.
func (s *Socket) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.conn.Read(p)
}

// Write writes all of p, like net.Conn.
func (s *Socket) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(p)
}

// Close is idempotent.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Socket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Socket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Socket) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *Socket) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *Socket) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

var _ net.Conn = &Socket{}

// IsTimeout reports whether err is a per-call timeout, as opposed to the
// endpoint being broken. Timed-out operations may be retried.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// IsClosed reports whether err means the endpoint or its peer is gone.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
