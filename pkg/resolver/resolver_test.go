package resolver_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/resolver"
	"github.com/WhileEndless/reactorhttp/pkg/timerwheel"
)

func TestAddHostResolvesAndDrainApplies(t *testing.T) {
	r := resolver.New(time.Hour, resolver.WithWorkers(1), resolver.WithLookupFunc(
		func(ctx context.Context, hostname string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("10.0.0.1")}, nil
		}))
	r.Start()
	defer r.Stop()

	host := r.AddHost("service.internal", "443", true, "primary")

	require.Eventually(t, func() bool {
		r.Drain()
		return len(host.Addrs()) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, "10.0.0.1", host.Addrs()[0].String())
	require.NoError(t, host.LastError())
}

func TestFailedRefreshKeepsLastGoodAddress(t *testing.T) {
	var calls int32
	r := resolver.New(time.Hour, resolver.WithWorkers(1), resolver.WithLookupFunc(
		func(ctx context.Context, hostname string) ([]net.IP, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return []net.IP{net.ParseIP("10.0.0.2")}, nil
			}
			return nil, errors.New("lookup failed")
		}))
	r.Start()
	defer r.Stop()

	host := r.AddHost("flaky.internal", "80", false, "")
	require.Eventually(t, func() bool {
		r.Drain()
		return len(host.Addrs()) == 1
	}, time.Second, 5*time.Millisecond)

	// Force a second, failing lookup by arming and firing a refresh sweep.
	w := timerwheel.New()
	_, err := r.ArmPeriodicRefresh(w)
	require.NoError(t, err)
	w.Tick(time.Now().Add(time.Hour))

	require.Eventually(t, func() bool {
		r.Drain()
		return host.LastError() != nil
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, "10.0.0.2", host.Addrs()[0].String())
}

func TestRefreshErrorsAggregateViaCallback(t *testing.T) {
	r := resolver.New(time.Hour, resolver.WithWorkers(2), resolver.WithLookupFunc(
		func(ctx context.Context, hostname string) ([]net.IP, error) {
			return nil, errors.New("no such host: " + hostname)
		}))
	var gotErr error
	r.OnRefreshError = func(err error) { gotErr = err }
	r.Start()
	defer r.Stop()

	r.AddHost("a.invalid", "80", false, "")
	r.AddHost("b.invalid", "80", false, "")

	require.Eventually(t, func() bool {
		r.Drain()
		return gotErr != nil
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, gotErr.Error(), "no such host")
}
