// Package reactor implements the single-threaded, readiness-driven event
// loop described in SPEC_FULL.md §4.5: one epoll instance (via
// golang.org/x/sys/unix) owns every socket, dispatches readiness to a
// per-connection state table, drains write queues, and runs the timer
// wheel once per iteration. Grounded on original_source/core/network.c and
// network_internal.h (MAX_EVENTS, WAIT_TIMEOUT, MAX_WRITE_TRIES, the
// transient-accept-error list).
package reactor

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/WhileEndless/reactorhttp/pkg/bytebuf"
	"github.com/WhileEndless/reactorhttp/pkg/constants"
	rherrors "github.com/WhileEndless/reactorhttp/pkg/errors"
	"github.com/WhileEndless/reactorhttp/pkg/list"
	"github.com/WhileEndless/reactorhttp/pkg/slotmap"
	"github.com/WhileEndless/reactorhttp/pkg/timerwheel"
	"github.com/WhileEndless/reactorhttp/pkg/tlsadapter"
)

// Direction classifies how a connection came to exist.
type Direction int

const (
	DirListen Direction = iota
	DirOutgoing
	DirIncoming
)

// State is the transport-level state table key (§4.5).
type State int

const (
	StateListening State = iota
	StateConnecting
	StateEstablished
	StateTLSHandshaking
	StateTLSEstablished
	StateTLSShutdown
	StateClosed
)

// CloseCode is the small enumeration propagated to a connection's close
// callback (§7).
type CloseCode int

const (
	Success CloseCode = iota
	ErrEstablish
	ErrShutdown
	ErrAccept
	ErrWrite
	ErrRead
)

// Handle is a stable connection identifier, distinct from the raw fd so a
// reused fd cannot impersonate a prior connection (§3, §9).
type Handle struct {
	h slotmap.Handle
}

// Callbacks are the role-specific hooks a connection owner supplies.
type Callbacks struct {
	OnReadable    func(r *Reactor, h Handle) error
	OnWritable    func(r *Reactor, h Handle) error
	OnEstablished func(r *Reactor, h Handle)
	OnClosed      func(r *Reactor, h Handle, code CloseCode, err error)
}

type writeBuf struct {
	data  []byte
	sent  int
	tries int
}

// Conn is one reactor-owned socket. It is never accessed outside the
// reactor goroutine.
type Conn struct {
	owner     *Reactor
	fd        int
	dir       Direction
	state     State
	callbacks Callbacks

	readBuf   *bytebuf.Buf
	writeQ    *list.List[*writeBuf]
	wantWrite bool

	timers *timerwheel.Wheel

	host, port string

	toShutdown      bool
	flushAndClose   bool
	isShutWrDone    bool
	gotConnect      bool
	tunnelingMode   bool
	isInDestroying  bool
	isInDupUdata    bool

	flushDeadline timerwheel.Handle
	userData      any

	// tls is non-nil once a connection is mid-handshake or established
	// over TLS (StateTLSHandshaking/StateTLSEstablished/StateTLSShutdown);
	// Read and the write-queue drain both route through it instead of the
	// raw fd when set. netConn is the net.Conn promoted from fd that the
	// adapter actually speaks to (§4.6); it is closed alongside fd on
	// teardown. pendingTLSConfig/pendingTLSTimeout stage a TLS handshake
	// requested on a still-StateConnecting outgoing dial so it can start
	// the instant the non-blocking connect succeeds.
	tls                *tlsadapter.Adapter
	netConn            net.Conn
	tlsShutdownTimeout time.Duration
	pendingTLSConfig   *tls.Config
	pendingTLSTimeout  time.Duration
}

// UserData returns the opaque per-connection identifier set by DupUserData
// or SetUserData.
func (c *Conn) UserData() any { return c.userData }

// SetUserData stores an opaque identifier on the connection.
func (c *Conn) SetUserData(v any) { c.userData = v }

// Host returns the cached remote host string.
func (c *Conn) Host() string { return c.host }

// Port returns the cached remote port string.
func (c *Conn) Port() string { return c.port }

// ReadBuf exposes the connection's read buffer to role-specific read
// handlers (e.g. the HTTP parser feed path).
func (c *Conn) ReadBuf() *bytebuf.Buf { return c.readBuf }

// Read performs one non-blocking read directly against the socket (or, for
// a TLS-established connection, against the TLS adapter). Role layers built
// on top of the reactor (e.g. pkg/httpconn) call this from inside their
// OnReadable callback rather than touching the fd themselves.
func (c *Conn) Read(p []byte) (int, error) {
	if c.tls != nil {
		n, err := c.tls.Read(p)
		if err != nil {
			switch err {
			case tlsadapter.ErrWantWrite:
				c.owner.setWriteInterest(c, true)
				return n, nil
			case tlsadapter.ErrWantRead:
				return n, nil
			}
			return n, err
		}
		return n, nil
	}
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return n, nil
		}
		return n, rherrors.NewIOError("read", err)
	}
	return n, nil
}

// State returns the connection's current transport state.
func (c *Conn) State() State { return c.state }

// Timers returns the per-connection timer wheel.
func (c *Conn) Timers() *timerwheel.Wheel { return c.timers }

// TunnelingMode reports whether this connection has switched to opaque
// byte relay after a successful CONNECT (§4.9).
func (c *Conn) TunnelingMode() bool { return c.tunnelingMode }

// SetTunnelingMode switches the connection into tunneling mode. Once set it
// is never cleared for the lifetime of the connection (§3).
func (c *Conn) SetTunnelingMode() { c.tunnelingMode = true }

// RequestShutdown marks the connection for teardown at the end of the
// current iteration's batch (§5).
func (c *Conn) RequestShutdown() { c.toShutdown = true }

// Reactor owns one epoll instance and every connection registered on it.
type Reactor struct {
	epfd     int
	conns    *slotmap.Map[*Conn]
	fdToH    map[int]Handle
	maxFDs   int
	timers   *timerwheel.Wheel
	eventBuf []unix.EpollEvent
}

// Option configures a Reactor at construction time.
type Option func(*Reactor)

// WithMaxFDs sets the descriptor ceiling to n, replacing the default 128-fd
// profile; the high-fanout profile passes 4096 (§4.5).
func WithMaxFDs(n int) Option {
	return func(r *Reactor) { r.maxFDs = n }
}

// New creates a Reactor with its own epoll instance.
func New(opts ...Option) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, rherrors.NewIOError("epoll_create1", err)
	}
	r := &Reactor{
		epfd:     epfd,
		conns:    slotmap.New[*Conn](),
		fdToH:    make(map[int]Handle),
		maxFDs:   constants.MaxFDsDefault,
		timers:   timerwheel.New(),
		eventBuf: make([]unix.EpollEvent, constants.MaxEvents),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// GlobalTimers returns the reactor-wide timer wheel (as opposed to each
// connection's private one), for periodic tasks like resolver refresh.
func (r *Reactor) GlobalTimers() *timerwheel.Wheel { return r.timers }

// Close releases the epoll instance. Registered connections are not closed
// individually; callers should shut them down first.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}

// Conn resolves a Handle to its live *Conn, or ErrGone if stale.
func (r *Reactor) Conn(h Handle) (*Conn, error) {
	return r.conns.Get(h.h)
}

// Rebind replaces the callbacks on an already-registered connection. A
// higher-level wrapper (e.g. pkg/httpconn's Adopt) uses this to take over a
// connection a lower layer already registered and established (via
// ConnectOutgoing or RegisterTLS*) without adding the fd to epoll a second
// time, which would fail with EEXIST.
func (r *Reactor) Rebind(h Handle, cb Callbacks) error {
	c, err := r.conns.Get(h.h)
	if err != nil {
		return err
	}
	c.callbacks = cb
	return nil
}

// Register adds fd to the reactor in the given initial state, arming
// read-interest (and write-interest if wantWrite). Fails with ConnCapacity
// once the fd ceiling is reached.
func (r *Reactor) Register(fd int, dir Direction, state State, cb Callbacks, wantWrite bool) (Handle, error) {
	if len(r.fdToH) >= r.maxFDs {
		return Handle{}, rherrors.NewKindError(rherrors.KindConnCapacity, "reactor.Register", "max fd limit reached")
	}
	c := &Conn{
		owner:     r,
		fd:        fd,
		dir:       dir,
		state:     state,
		callbacks: cb,
		readBuf:   bytebuf.New(constants.ReadBufferInitSize),
		writeQ:    list.New[*writeBuf](),
		timers:    timerwheel.New(),
	}
	sh := r.conns.Insert(c)
	h := Handle{h: sh}

	events := uint32(unix.EPOLLIN)
	if wantWrite {
		events |= unix.EPOLLOUT
		c.wantWrite = true
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)}); err != nil {
		r.conns.Remove(sh)
		return Handle{}, rherrors.NewIOError("epoll_ctl_add", err)
	}
	r.fdToH[fd] = h
	return h, nil
}

// ConnectOutgoing opens a non-blocking outgoing TCP connection to ip:port
// and registers it in StateConnecting (§4.5): the fd is handed to
// unix.Connect, which returns EINPROGRESS for a non-blocking socket, and
// the dispatch loop completes the handshake on the first writable
// readiness by checking SO_ERROR (the same technique
// original_source/core/network.c uses for its own outgoing dials). If
// tlsCfg is non-nil the connection transitions straight into
// StateTLSHandshaking once the TCP connect succeeds, instead of firing
// OnEstablished for a plaintext connection.
func ConnectOutgoing(r *Reactor, ip net.IP, port int, tlsCfg *tls.Config, tlsEstablishTimeout time.Duration, cb Callbacks) (Handle, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return Handle{}, rherrors.NewValidationError("reactor.ConnectOutgoing: only IPv4 targets are supported")
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return Handle{}, rherrors.NewIOError("socket", err)
	}

	var sa unix.SockaddrInet4
	sa.Port = port
	copy(sa.Addr[:], ip4)

	if cerr := unix.Connect(fd, &sa); cerr != nil && cerr != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return Handle{}, rherrors.NewConnectionError(ip.String(), port, cerr)
	}

	h, rerr := r.Register(fd, DirOutgoing, StateConnecting, cb, true)
	if rerr != nil {
		_ = unix.Close(fd)
		return Handle{}, rerr
	}
	c, _ := r.conns.Get(h.h)
	c.host = ip.String()
	c.port = strconv.Itoa(port)
	if tlsCfg != nil {
		c.pendingTLSConfig = tlsCfg
		c.pendingTLSTimeout = tlsEstablishTimeout
	}
	return h, nil
}

// RegisterTLSServer registers an already-accepted fd for a server-side TLS
// handshake (§4.6's StateTLSHandshaking): cb.OnEstablished fires once the
// handshake completes, at which point the connection behaves exactly like
// one registered via Register, reading and writing application data
// through the TLS adapter transparently.
func RegisterTLSServer(r *Reactor, fd int, cfg *tls.Config, establishTimeout time.Duration, cb Callbacks) (Handle, error) {
	return registerTLS(r, fd, DirIncoming, tlsadapter.NewServer, cfg, establishTimeout, cb)
}

// RegisterTLSClient mirrors RegisterTLSServer for an outgoing fd that is
// already TCP-connected (e.g. a plain net.Dialer result being promoted to
// TLS, as opposed to ConnectOutgoing's combined connect+handshake path).
func RegisterTLSClient(r *Reactor, fd int, cfg *tls.Config, establishTimeout time.Duration, cb Callbacks) (Handle, error) {
	return registerTLS(r, fd, DirOutgoing, tlsadapter.NewClient, cfg, establishTimeout, cb)
}

func registerTLS(r *Reactor, fd int, dir Direction, newAdapter func(net.Conn, *tls.Config, time.Duration) *tlsadapter.Adapter, cfg *tls.Config, establishTimeout time.Duration, cb Callbacks) (Handle, error) {
	h, err := r.Register(fd, dir, StateTLSHandshaking, cb, true)
	if err != nil {
		return Handle{}, err
	}
	c, _ := r.conns.Get(h.h)
	nc, perr := promoteFD(fd)
	if perr != nil {
		r.closeConn(h, ErrEstablish, perr)
		return Handle{}, perr
	}
	c.netConn = nc
	c.tls = newAdapter(nc, cfg, establishTimeout)
	r.driveTLSHandshake(h, c)
	return h, nil
}

// promoteFD wraps a reactor-owned fd in a net.Conn for tlsadapter, which
// only ever speaks to a net.Conn (crypto/tls has no raw-fd entry point).
// net.FileConn dup's the descriptor rather than adopting it, so the
// original fd stays owned by the reactor for epoll purposes; the
// os.File wrapper's finalizer is disarmed so garbage-collecting it doesn't
// close that original fd out from under epoll.
func promoteFD(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "")
	nc, err := net.FileConn(f)
	runtime.SetFinalizer(f, nil)
	if err != nil {
		return nil, rherrors.NewIOError("promote fd to net.Conn", err)
	}
	return nc, nil
}

func (r *Reactor) setWriteInterest(c *Conn, want bool) {
	if c.wantWrite == want {
		return
	}
	c.wantWrite = want
	events := uint32(unix.EPOLLIN)
	if want {
		events |= unix.EPOLLOUT
	}
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, c.fd, &unix.EpollEvent{Events: events, Fd: int32(c.fd)})
}

// Enqueue appends data to a connection's write queue and arms write
// interest if it wasn't already armed.
func (r *Reactor) Enqueue(h Handle, data []byte) error {
	c, err := r.conns.Get(h.h)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	c.writeQ.PushBack(&writeBuf{data: data})
	r.setWriteInterest(c, true)
	return nil
}

// transientAcceptErrno mirrors §4.5's transient-accept-error list: these do
// not tear down a listener.
// IsTransientAcceptError reports whether err is one of the errno values
// §4.5 names as transient accept failures (should be ignored, not torn
// down the listener for).
func IsTransientAcceptError(err error) bool {
	return transientAcceptErrno[err]
}

var transientAcceptErrno = map[error]bool{
	unix.EAGAIN:      true,
	unix.ECONNABORTED: true,
	unix.ENETDOWN:     true,
	unix.EPROTO:       true,
	unix.ENOPROTOOPT:  true,
	unix.EHOSTDOWN:    true,
	unix.ENONET:       true,
	unix.EHOSTUNREACH: true,
	unix.EOPNOTSUPP:   true,
	unix.ENETUNREACH:  true,
}

// closeConn tears down a connection: invokes the close callback exactly once,
// removes it from epoll and the slot map, and closes the fd. Idempotent
// and re-entrancy-safe via isInDestroying (§5).
func (r *Reactor) closeConn(h Handle, code CloseCode, causeErr error) {
	c, err := r.conns.Get(h.h)
	if err != nil || c.isInDestroying {
		return
	}
	c.isInDestroying = true

	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	delete(r.fdToH, c.fd)
	_ = unix.Close(c.fd)
	if c.netConn != nil {
		_ = c.netConn.Close()
	}

	if c.callbacks.OnClosed != nil {
		c.callbacks.OnClosed(r, h, code, causeErr)
	}
	r.conns.Remove(h.h)
}

// Shutdown requests an immediate, non-graceful teardown.
func (r *Reactor) Shutdown(h Handle, code CloseCode, causeErr error) {
	r.closeConn(h, code, causeErr)
}

// FlushAndClose arms a deadline timer, drains the write queue, then closes
// with Success if every queued byte was transmitted before the deadline,
// else ErrShutdown (§9 Glossary, §4.5 transitions).
func (r *Reactor) FlushAndClose(h Handle, deadline time.Duration) error {
	c, err := r.conns.Get(h.h)
	if err != nil {
		return err
	}
	c.flushAndClose = true
	hTimer, terr := c.timers.Schedule(deadline, func(timerwheel.Handle, time.Time) {
		code := ErrShutdown
		if c.writeQ.Empty() {
			code = Success
		}
		r.closeConn(h, code, nil)
	})
	if terr != nil {
		return terr
	}
	c.flushDeadline = hTimer
	if c.writeQ.Empty() {
		r.closeConn(h, Success, nil)
	}
	return nil
}

// ShutdownTLS begins a graceful close_notify exchange instead of an abrupt
// close (StateTLSShutdown): the dispatch loop retries Adapter.Shutdown on
// every subsequent readiness event until it completes or shutdownTimeout
// elapses, at which point the connection is closed either way.
func (r *Reactor) ShutdownTLS(h Handle, shutdownTimeout time.Duration) error {
	c, err := r.conns.Get(h.h)
	if err != nil {
		return err
	}
	if c.tls == nil {
		return rherrors.NewKindError(rherrors.KindWrongState, "reactor.ShutdownTLS", "connection has no TLS adapter")
	}
	c.state = StateTLSShutdown
	c.tlsShutdownTimeout = shutdownTimeout
	r.driveTLSShutdown(h, c)
	return nil
}

// Run blocks, servicing readiness events and timers until ctx is canceled.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(r.epfd, r.eventBuf, constants.WaitTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return rherrors.NewIOError("epoll_wait", err)
		}

		for i := 0; i < n; i++ {
			ev := r.eventBuf[i]
			h, ok := r.fdToH[int(ev.Fd)]
			if !ok {
				continue
			}
			r.dispatch(h, ev.Events)
		}

		now := time.Now()
		r.timers.Tick(now)
		r.conns.Each(func(h slotmap.Handle, c *Conn) {
			c.timers.Tick(now)
		})
	}
}

// dispatch realizes §4.5's per-state dispatch table: StateConnecting and
// the TLS states each drive their own state machine instead of the
// established-connection OnReadable/OnWritable path, which only ever
// applies once a (plaintext or TLS) connection is actually usable for
// application data.
func (r *Reactor) dispatch(h Handle, events uint32) {
	c, err := r.conns.Get(h.h)
	if err != nil {
		return
	}

	switch c.state {
	case StateConnecting:
		r.dispatchConnecting(h, c, events)
		return
	case StateTLSHandshaking:
		r.dispatchTLSHandshake(h, c, events)
		return
	case StateTLSShutdown:
		r.dispatchTLSShutdown(h, c, events)
		return
	}

	skip := false
	readable := events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
	writable := events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0

	if readable && !c.toShutdown {
		if c.callbacks.OnReadable != nil {
			if err := c.callbacks.OnReadable(r, h); err != nil {
				r.closeConn(h, ErrRead, err)
				return
			}
		}
		if _, err := r.conns.Get(h.h); err != nil {
			return
		}
		skip = c.isInDestroying
	}

	if writable && !skip {
		if _, err := r.conns.Get(h.h); err != nil {
			return
		}
		r.drainWriteQueue(h, c)
		if _, err := r.conns.Get(h.h); err != nil {
			return
		}
		if c.callbacks.OnWritable != nil {
			if err := c.callbacks.OnWritable(r, h); err != nil {
				r.closeConn(h, ErrWrite, err)
				return
			}
		}
	}

	if c.toShutdown {
		r.closeConn(h, Success, nil)
	}
}

// dispatchConnecting completes a non-blocking outgoing connect (§4.5):
// a writable event means the kernel has resolved EINPROGRESS one way or
// the other, so SO_ERROR tells us whether the connect actually succeeded.
func (r *Reactor) dispatchConnecting(h Handle, c *Conn, events uint32) {
	if events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) == 0 {
		return
	}
	errno, gerr := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		r.closeConn(h, ErrEstablish, rherrors.NewIOError("getsockopt(SO_ERROR)", gerr))
		return
	}
	if errno != 0 {
		port, _ := strconv.Atoi(c.port)
		r.closeConn(h, ErrEstablish, rherrors.NewConnectionError(c.host, port, unix.Errno(errno)))
		return
	}

	if c.pendingTLSConfig != nil {
		nc, perr := promoteFD(c.fd)
		if perr != nil {
			r.closeConn(h, ErrEstablish, perr)
			return
		}
		c.netConn = nc
		c.tls = tlsadapter.NewClient(nc, c.pendingTLSConfig, c.pendingTLSTimeout)
		c.pendingTLSConfig = nil
		c.state = StateTLSHandshaking
		r.driveTLSHandshake(h, c)
		return
	}

	c.state = StateEstablished
	r.setWriteInterest(c, false)
	if c.callbacks.OnEstablished != nil {
		c.callbacks.OnEstablished(r, h)
	}
}

// dispatchTLSHandshake drives the handshake on every readiness event until
// the adapter reports completion, a want-read/want-write sentinel (in
// which case only the matching epoll interest needs rearming), or a
// terminal error.
func (r *Reactor) dispatchTLSHandshake(h Handle, c *Conn, events uint32) {
	if events&(unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) == 0 {
		return
	}
	r.driveTLSHandshake(h, c)
}

func (r *Reactor) driveTLSHandshake(h Handle, c *Conn) {
	err := c.tls.Handshake()
	if err == nil {
		c.state = StateTLSEstablished
		r.setWriteInterest(c, false)
		if c.callbacks.OnEstablished != nil {
			c.callbacks.OnEstablished(r, h)
		}
		return
	}
	switch err {
	case tlsadapter.ErrWantRead:
		r.setWriteInterest(c, false)
	case tlsadapter.ErrWantWrite:
		r.setWriteInterest(c, true)
	default:
		r.closeConn(h, ErrEstablish, err)
	}
}

func (r *Reactor) dispatchTLSShutdown(h Handle, c *Conn, events uint32) {
	if events&(unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) == 0 {
		return
	}
	r.driveTLSShutdown(h, c)
}

func (r *Reactor) driveTLSShutdown(h Handle, c *Conn) {
	err := c.tls.Shutdown(c.tlsShutdownTimeout)
	if err == nil {
		r.closeConn(h, Success, nil)
		return
	}
	switch err {
	case tlsadapter.ErrWantRead:
		r.setWriteInterest(c, false)
	case tlsadapter.ErrWantWrite:
		r.setWriteInterest(c, true)
	default:
		r.closeConn(h, ErrShutdown, err)
	}
}

// drainWriteQueue sends as much of the queue head as the socket accepts
// without blocking, retrying on EINTR. A per-buffer tries counter is reset
// once it reaches MaxWriteTries; nothing is logged at that point and the
// connection is not aborted.
func (r *Reactor) drainWriteQueue(h Handle, c *Conn) {
	for {
		v, ok := c.writeQ.Front()
		if !ok {
			r.setWriteInterest(c, false)
			if c.flushAndClose && !c.isShutWrDone {
				c.isShutWrDone = true
				_ = unix.Shutdown(c.fd, unix.SHUT_WR)
			}
			return
		}
		wb := v
		var n int
		var err error
		if c.tls != nil {
			n, err = c.tls.Write(wb.data[wb.sent:])
		} else {
			n, err = unix.Write(c.fd, wb.data[wb.sent:])
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return
			}
			if c.tls != nil && err == tlsadapter.ErrWantWrite {
				r.setWriteInterest(c, true)
				return
			}
			if c.tls != nil && err == tlsadapter.ErrWantRead {
				return
			}
			r.closeConn(h, ErrWrite, rherrors.NewIOError("write", err))
			return
		}
		wb.sent += n
		wb.tries++
		if wb.tries >= constants.MaxWriteTries {
			// Watchdog: reset the counter; no log, no abort.
			wb.tries = 0
		}
		if wb.sent >= len(wb.data) {
			c.writeQ.PopFront()
			continue
		}
		return
	}
}
