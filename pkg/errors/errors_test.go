package errors_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/errors"
)

func TestConstructorsSetExpectedType(t *testing.T) {
	cases := []struct {
		name         string
		err          *errors.Error
		expectedType errors.ErrorType
	}{
		{"dns", errors.NewDNSError("example.com", fmt.Errorf("lookup failed")), errors.ErrorTypeDNS},
		{"connection", errors.NewConnectionError("example.com", 443, fmt.Errorf("refused")), errors.ErrorTypeConnection},
		{"tls", errors.NewTLSError("example.com", 443, fmt.Errorf("handshake")), errors.ErrorTypeTLS},
		{"timeout", errors.NewTimeoutError("read", time.Second), errors.ErrorTypeTimeout},
		{"protocol", errors.NewProtocolError("bad header", nil), errors.ErrorTypeProtocol},
		{"io", errors.NewIOError("read", fmt.Errorf("closed")), errors.ErrorTypeIO},
		{"validation", errors.NewValidationError("bad input"), errors.ErrorTypeValidation},
		{"proxy", errors.NewProxyError("socks5", "127.0.0.1:1080", "dial", fmt.Errorf("refused")), errors.ErrorTypeProxy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expectedType, tc.err.Type)
		})
	}
}

func TestErrorMessageIncludesAddrAndCause(t *testing.T) {
	err := errors.NewConnectionError("example.com", 443, fmt.Errorf("connection refused"))
	msg := err.Error()
	require.Contains(t, msg, "example.com:443")
	require.Contains(t, msg, "connection refused")
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := errors.NewIOError("write", cause)
	require.Equal(t, cause, err.Unwrap())
}

func TestIsMatchesByType(t *testing.T) {
	a := errors.NewTLSError("a.example.com", 443, nil)
	b := errors.NewTLSError("b.example.com", 443, nil)
	require.True(t, a.Is(b))

	c := errors.NewDNSError("a.example.com", nil)
	require.False(t, a.Is(c))
}

func TestKindErrorsCarryNoTransportType(t *testing.T) {
	err := errors.NewKindError(errors.KindConnCapacity, "reactor.Register", "descriptor table full")
	require.Equal(t, errors.KindConnCapacity, errors.GetKind(err))
	require.Empty(t, err.Type)
}

func TestWithKindAttachesToExistingError(t *testing.T) {
	err := errors.NewIOError("read", fmt.Errorf("eof"))
	err.WithKind(errors.KindWrongState)
	require.Equal(t, errors.KindWrongState, errors.GetKind(err))
}

func TestGetKindOnPlainErrorIsEmpty(t *testing.T) {
	require.Empty(t, errors.GetKind(fmt.Errorf("not a structured error")))
}

func TestContextCancellationVsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, errors.IsContextCanceled(ctx.Err()))
	require.False(t, errors.IsContextTimeout(ctx.Err()))

	dctx, dcancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer dcancel()
	time.Sleep(10 * time.Millisecond)
	require.True(t, errors.IsContextTimeout(dctx.Err()))
	require.True(t, errors.IsTimeoutError(dctx.Err()))
	require.False(t, errors.IsContextCanceled(dctx.Err()))
}

func TestIsTimeoutErrorMatchesStructuredTimeout(t *testing.T) {
	err := errors.NewTimeoutError("test operation", 5*time.Second)
	require.True(t, errors.IsTimeoutError(err))
	require.False(t, errors.IsContextCanceled(err))
	require.False(t, errors.IsContextTimeout(err))
}

func TestContextHelpersOnPlainAndNilErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		canceled bool
		timeout  bool
		deadline bool
	}{
		{"nil error", nil, false, false, false},
		{"context canceled", context.Canceled, true, false, false},
		{"context deadline", context.DeadlineExceeded, false, true, true},
		{"structured non-timeout error", errors.NewProtocolError("test", nil), false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.canceled, errors.IsContextCanceled(tc.err))
			require.Equal(t, tc.timeout, errors.IsTimeoutError(tc.err))
			require.Equal(t, tc.deadline, errors.IsContextTimeout(tc.err))
		})
	}
}
