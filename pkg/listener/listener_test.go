package listener_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/WhileEndless/reactorhttp/pkg/listener"
	"github.com/WhileEndless/reactorhttp/pkg/reactor"
)

func boundPort(t *testing.T, fd int) int {
	t.Helper()
	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	in4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return in4.Port
}

func TestAcceptDispatchesWithUserData(t *testing.T) {
	fd, err := listener.MakeListen(0)
	require.NoError(t, err)
	port := boundPort(t, fd)

	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	accepted := make(chan int, 1)
	gotUserData := make(chan string, 1)

	_, err = listener.Register(r, fd, listener.Callbacks{
		DupUserData: func() any { return "conn-id" },
		OnAccept: func(childFD int, remoteAddr string, userData any) {
			gotUserData <- userData.(string)
			accepted <- childFD
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	defer cancel()

	conn, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	select {
	case childFD := <-accepted:
		require.Greater(t, childFD, 0)
		unix.Close(childFD)
	case <-time.After(time.Second):
		t.Fatal("listener never accepted connection")
	}

	select {
	case ud := <-gotUserData:
		require.Equal(t, "conn-id", ud)
	case <-time.After(time.Second):
		t.Fatal("DupUserData result never delivered")
	}
}

