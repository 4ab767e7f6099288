package reactor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/WhileEndless/reactorhttp/pkg/reactor"
)

// socketpair returns two connected, non-blocking AF_UNIX stream fds.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func TestRegisterAndReadWrite(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketpair(t)

	received := make(chan string, 1)
	var bHandle reactor.Handle

	_, err = r.Register(a, reactor.DirOutgoing, reactor.StateEstablished, reactor.Callbacks{}, false)
	require.NoError(t, err)

	bHandle, err = r.Register(b, reactor.DirIncoming, reactor.StateEstablished, reactor.Callbacks{
		OnReadable: func(rt *reactor.Reactor, h reactor.Handle) error {
			c, gerr := rt.Conn(h)
			require.NoError(t, gerr)
			buf := make([]byte, 256)
			n, _ := unix.Read(b, buf)
			if n > 0 {
				c.ReadBuf().Append(buf[:n])
				received <- string(c.ReadBuf().UsedBytes())
			}
			return nil
		},
	}, false)
	require.NoError(t, err)
	_ = bHandle

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = r.Run(ctx)
	}()
	defer cancel()

	_, err = unix.Write(a, []byte("hello"))
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read callback")
	}
}

func TestEnqueueDrainsWriteQueue(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketpair(t)

	aHandle, err := r.Register(a, reactor.DirOutgoing, reactor.StateEstablished, reactor.Callbacks{}, false)
	require.NoError(t, err)
	_, err = r.Register(b, reactor.DirIncoming, reactor.StateEstablished, reactor.Callbacks{}, false)
	require.NoError(t, err)

	require.NoError(t, r.Enqueue(aHandle, []byte("payload")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	defer cancel()

	buf := make([]byte, 256)
	deadline := time.Now().Add(time.Second)
	var n int
	for time.Now().Before(deadline) {
		n, err = unix.Read(b, buf)
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, "payload", string(buf[:n]))
}

func TestRegisterCapacityExceeded(t *testing.T) {
	r, err := reactor.New(reactor.WithMaxFDs(1))
	require.NoError(t, err)
	defer r.Close()

	a, b := socketpair(t)
	_, err = r.Register(a, reactor.DirOutgoing, reactor.StateEstablished, reactor.Callbacks{}, false)
	require.NoError(t, err)

	_, err = r.Register(b, reactor.DirIncoming, reactor.StateEstablished, reactor.Callbacks{}, false)
	require.Error(t, err)
}
