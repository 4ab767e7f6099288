// Package tlsadapter drives crypto/tls handshake, shutdown, and read/write
// with the reactor's want-read/want-write interleaving (§4.6). Go's TLS
// stack has no non-blocking BIO the way OpenSSL does, so netFDConn (see
// netfdconn.go) simulates WANT_READ/WANT_WRITE by setting an immediate
// deadline before every underlying Read/Write: if the byte isn't already
// sitting in the socket buffer, the call returns instantly with a
// timeout-flavored net.Error instead of blocking, and the adapter treats
// that exactly like OpenSSL's want-read/want-write — it defers to the
// reactor's next readiness event rather than parking the goroutine.
package tlsadapter

import (
	"crypto/tls"
	"errors"
	"net"
	"time"

	rherrors "github.com/WhileEndless/reactorhttp/pkg/errors"
)

// ErrWantRead and ErrWantWrite signal that the last operation would have
// blocked waiting for the opposite (or same) readiness direction; the
// caller should arm the appropriate epoll interest and retry the identical
// call once the reactor reports that fd ready again.
var (
	ErrWantRead  = errors.New("tlsadapter: want read")
	ErrWantWrite = errors.New("tlsadapter: want write")
)

// Side selects which half of the handshake an Adapter drives.
type Side int

const (
	SideClient Side = iota
	SideServer
)

type adapterState int

const (
	stateHandshaking adapterState = iota
	stateEstablished
	stateShuttingDown
	stateClosed
)

// Adapter wraps one crypto/tls.Conn, tracking the want-read/want-write
// indicator (§9's explicit two-bit interlock, realized here as the small
// fdWant sum type in netfdconn.go rather than two booleans).
type Adapter struct {
	raw      *netFDConn
	tlsConn  *tls.Conn
	side     Side
	state    adapterState
	deadline time.Time
}

// NewClient wraps conn for a client-side handshake against cfg.
func NewClient(conn net.Conn, cfg *tls.Config, establishTimeout time.Duration) *Adapter {
	raw := newNetFDConn(conn)
	return &Adapter{
		raw:      raw,
		tlsConn:  tls.Client(raw, cfg),
		side:     SideClient,
		deadline: time.Now().Add(establishTimeout),
	}
}

// NewServer wraps conn for a server-side handshake against cfg. If cfg has
// no certificates, the caller is expected to have already populated it with
// a throwaway pair via GenerateThrowawayCert and logged the warning §4.6
// requires.
func NewServer(conn net.Conn, cfg *tls.Config, establishTimeout time.Duration) *Adapter {
	raw := newNetFDConn(conn)
	return &Adapter{
		raw:      raw,
		tlsConn:  tls.Server(raw, cfg),
		side:     SideServer,
		deadline: time.Now().Add(establishTimeout),
	}
}

// Handshake drives one step of the handshake state machine. Returns
// ErrWantRead/ErrWantWrite if the reactor should wait for more readiness,
// nil on successful completion, or a terminal *rherrors.Error on failure
// (including establish-deadline expiry, which forces close).
func (a *Adapter) Handshake() error {
	if time.Now().After(a.deadline) {
		return rherrors.NewTLSError("", 0, errors.New("handshake establish deadline expired"))
	}
	err := a.tlsConn.Handshake()
	if err == nil {
		a.state = stateEstablished
		return nil
	}
	if want := a.raw.wantErr(err); want != nil {
		return want
	}
	return rherrors.NewTLSError("", 0, err)
}

// Read drives an application-data read. Returns ErrWantRead/ErrWantWrite
// when the underlying socket isn't ready yet.
func (a *Adapter) Read(p []byte) (int, error) {
	n, err := a.tlsConn.Read(p)
	if err != nil {
		if want := a.raw.wantErr(err); want != nil {
			return n, want
		}
		return n, rherrors.NewIOError("tls read", err)
	}
	return n, nil
}

// Write drives an application-data write.
func (a *Adapter) Write(p []byte) (int, error) {
	n, err := a.tlsConn.Write(p)
	if err != nil {
		if want := a.raw.wantErr(err); want != nil {
			return n, want
		}
		return n, rherrors.NewIOError("tls write", err)
	}
	return n, nil
}

// Shutdown drives the close_notify exchange, bounded by shutdownTimeout
// from the first call.
func (a *Adapter) Shutdown(shutdownTimeout time.Duration) error {
	if a.state != stateShuttingDown {
		a.state = stateShuttingDown
		a.deadline = time.Now().Add(shutdownTimeout)
	}
	if time.Now().After(a.deadline) {
		a.state = stateClosed
		return rherrors.NewTLSError("", 0, errors.New("shutdown deadline expired"))
	}
	err := a.tlsConn.Close()
	if err == nil {
		a.state = stateClosed
		return nil
	}
	if want := a.raw.wantErr(err); want != nil {
		return want
	}
	a.state = stateClosed
	return rherrors.NewTLSError("", 0, err)
}

// ConnectionState exposes the negotiated TLS session (version, cipher,
// peer certificates) once established.
func (a *Adapter) ConnectionState() tls.ConnectionState {
	return a.tlsConn.ConnectionState()
}
