package tlsadapter_test

import (
	"crypto/tls"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/tlsadapter"
)

// driveHandshake retries Handshake() until it completes or the deadline is
// exceeded, standing in for the reactor re-dispatching on readiness.
func driveHandshake(t *testing.T, a *tlsadapter.Adapter, timeout time.Duration) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		err := a.Handshake()
		if err == nil {
			return nil
		}
		if err == tlsadapter.ErrWantRead || err == tlsadapter.ErrWantWrite {
			time.Sleep(time.Millisecond)
			continue
		}
		return err
	}
	return errors.New("test driver deadline exceeded")
}

func TestHandshakeAndReadWriteRoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	cert, err := tlsadapter.GenerateThrowawayCert()
	require.NoError(t, err)

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	serverAdapter := tlsadapter.NewServer(serverConn, serverCfg, time.Second)
	clientAdapter := tlsadapter.NewClient(clientConn, clientCfg, time.Second)

	done := make(chan error, 2)
	go func() { done <- driveHandshake(t, serverAdapter, 2*time.Second) }()
	go func() { done <- driveHandshake(t, clientAdapter, 2*time.Second) }()

	require.NoError(t, <-done)
	require.NoError(t, <-done)

	// Application-data round trip.
	writeDone := make(chan error, 1)
	go func() {
		for {
			_, err := clientAdapter.Write([]byte("ping"))
			if err == nil {
				writeDone <- nil
				return
			}
			if err == tlsadapter.ErrWantRead || err == tlsadapter.ErrWantWrite {
				time.Sleep(time.Millisecond)
				continue
			}
			writeDone <- err
			return
		}
	}()

	buf := make([]byte, 4)
	var n int
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var rerr error
		n, rerr = serverAdapter.Read(buf)
		if rerr == nil {
			break
		}
		if rerr == tlsadapter.ErrWantRead || rerr == tlsadapter.ErrWantWrite {
			time.Sleep(time.Millisecond)
			continue
		}
		t.Fatalf("unexpected read error: %v", rerr)
	}
	require.NoError(t, <-writeDone)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestHandshakeDeadlineExpires(t *testing.T) {
	serverConn, _ := net.Pipe()
	defer serverConn.Close()

	cert, err := tlsadapter.GenerateThrowawayCert()
	require.NoError(t, err)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	// No peer ever drives the client side, so the handshake can only ever
	// want-read; the establish deadline must eventually force an error.
	a := tlsadapter.NewServer(serverConn, serverCfg, 20*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		lastErr = a.Handshake()
		if lastErr != tlsadapter.ErrWantRead && lastErr != tlsadapter.ErrWantWrite {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Error(t, lastErr)
	require.NotEqual(t, tlsadapter.ErrWantRead, lastErr)
	require.NotEqual(t, tlsadapter.ErrWantWrite, lastErr)
}
