// Package listener implements the accept loop: a wildcard-bound listening
// socket registered on the reactor, accepting one connection per readiness
// event (fairness — a busy listener never starves the rest of the event
// table), with a DupUserData hook letting the caller stamp each accepted
// connection with an opaque per-accept identifier before any read
// callback fires. Grounded on original_source/core/network.c's
// make_listen/accept path and spec §4.11.
package listener

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/WhileEndless/reactorhttp/pkg/constants"
	rherrors "github.com/WhileEndless/reactorhttp/pkg/errors"
	"github.com/WhileEndless/reactorhttp/pkg/reactor"
)

// MakeListen creates a non-blocking, SO_REUSEADDR listening socket bound to
// the IPv4 wildcard address on port, with the backlog spec §4.11 names.
func MakeListen(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, rherrors.NewIOError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, rherrors.NewIOError("setsockopt", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, rherrors.NewIOError("bind", err)
	}
	if err := unix.Listen(fd, constants.Backlog); err != nil {
		_ = unix.Close(fd)
		return -1, rherrors.NewIOError("listen", err)
	}
	return fd, nil
}

// Callbacks are the accept-time hooks a listener owner supplies.
type Callbacks struct {
	// DupUserData produces the opaque identifier stamped on each newly
	// accepted connection, mirroring the original's per-accept user-data
	// duplication (§4.11). May be nil.
	DupUserData func() any
	// OnAccept fires once per accepted connection with its raw fd (already
	// non-blocking), the formatted remote address, and the DupUserData
	// result. The callee is responsible for registering the fd with the
	// reactor (typically via pkg/httpconn.Register).
	OnAccept func(childFD int, remoteAddr string, userData any)
	// OnFatalError fires if accept fails with a non-transient errno; the
	// listener keeps running (the caller decides whether to tear it down).
	OnFatalError func(err error)
}

// Register binds fd (from MakeListen) onto the reactor as a listening
// connection, accepting exactly one connection per readiness event.
func Register(r *reactor.Reactor, fd int, cb Callbacks) (reactor.Handle, error) {
	return r.Register(fd, reactor.DirListen, reactor.StateListening, reactor.Callbacks{
		OnReadable: func(rt *reactor.Reactor, h reactor.Handle) error {
			childFD, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
			if err != nil {
				if reactor.IsTransientAcceptError(err) {
					return nil
				}
				if cb.OnFatalError != nil {
					cb.OnFatalError(err)
				}
				return nil
			}
			remote := formatSockaddr(sa)
			var ud any
			if cb.DupUserData != nil {
				ud = cb.DupUserData()
			}
			if cb.OnAccept != nil {
				cb.OnAccept(childFD, remote, ud)
			}
			return nil
		},
	}, false)
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("%s:%d", ip.String(), v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip.String(), v.Port)
	default:
		return ""
	}
}
