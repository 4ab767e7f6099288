package tlsadapter

import (
	"net"
	"time"
)

// fdWant is the explicit small state SPEC_FULL §9 asks for in place of a
// boolean pair: which direction, if any, the last I/O attempt discovered it
// would block on.
type fdWant int

const (
	fdReady fdWant = iota
	fdWantRead
	fdWantWrite
)

// netFDConn adapts a blocking net.Conn to non-blocking semantics: every
// Read/Write first arms an immediate deadline, so a call that can't
// complete with already-buffered bytes returns instantly with a timeout
// net.Error instead of parking the goroutine. crypto/tls only ever calls
// Read/Write synchronously from within Handshake/Read/Write/Close, so this
// is sufficient to let the reactor goroutine retry later instead of
// blocking its single thread.
type netFDConn struct {
	net.Conn
	last fdWant
}

func newNetFDConn(c net.Conn) *netFDConn {
	return &netFDConn{Conn: c}
}

func (c *netFDConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now())
	n, err := c.Conn.Read(p)
	if err != nil && isTimeout(err) {
		c.last = fdWantRead
	}
	return n, err
}

func (c *netFDConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now())
	n, err := c.Conn.Write(p)
	if err != nil && isTimeout(err) {
		c.last = fdWantWrite
	}
	return n, err
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// wantErr classifies an error surfaced by the embedded tls.Conn: if it was
// caused by a timeout from this shim's Read/Write, translate it into the
// matching ErrWantRead/ErrWantWrite sentinel; otherwise return nil so the
// caller treats it as terminal.
func (c *netFDConn) wantErr(err error) error {
	if !isTimeout(err) {
		return nil
	}
	switch c.last {
	case fdWantRead:
		return ErrWantRead
	case fdWantWrite:
		return ErrWantWrite
	default:
		return ErrWantRead
	}
}
