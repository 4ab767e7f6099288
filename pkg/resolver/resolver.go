// Package resolver maintains the reactor's host table: hostname/port/TLS
// records refreshed on a periodic timer, with the actual (blocking) DNS
// lookups pushed onto a small worker pool so they never stall the
// reactor's epoll loop. Workers post results back through a buffered
// channel that Drain empties on the caller's goroutine; the reactor does
// not call Drain itself. Grounded on
// original_source/core/network.c's host-list handling and spec §4.10.
package resolver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/WhileEndless/reactorhttp/pkg/timerwheel"
)

// HostRecord is one named host tracked by the resolver.
type HostRecord struct {
	Hostname string
	Port     string
	UseTLS   bool
	Label    string

	mu           sync.RWMutex
	addrs        []net.IP
	lastResolved time.Time
	lastErr      error
}

// Addrs returns the most recently resolved address set. A host keeps its
// last-good resolution across a failed refresh (§4.10).
func (h *HostRecord) Addrs() []net.IP {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]net.IP, len(h.addrs))
	copy(out, h.addrs)
	return out
}

// LastError returns the error from the most recent refresh attempt, or nil.
func (h *HostRecord) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

func (h *HostRecord) apply(addrs []net.IP, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
	h.lastResolved = time.Now()
	if err == nil && len(addrs) > 0 {
		h.addrs = addrs
	}
}

type lookupResult struct {
	host *HostRecord
	addrs []net.IP
	err   error
}

// Resolver periodically re-resolves every tracked HostRecord, using a
// bounded pool of goroutines for the blocking net.LookupIP calls.
type Resolver struct {
	workers   int
	interval  time.Duration
	lookup    func(ctx context.Context, hostname string) ([]net.IP, error)

	mu      sync.Mutex
	hosts   []*HostRecord

	jobs    chan *HostRecord
	results chan lookupResult

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	// OnRefreshError is invoked from Drain with the aggregated failures of
	// one sweep (nil if the whole sweep succeeded). Wired to pkg/logging by
	// the caller; left nil here to avoid a dependency cycle.
	OnRefreshError func(err error)
}

// Option configures a Resolver at construction time.
type Option func(*Resolver)

// WithWorkers overrides the default worker-pool size (4).
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLookupFunc overrides the DNS lookup implementation (tests substitute
// a fake to avoid real network access).
func WithLookupFunc(fn func(ctx context.Context, hostname string) ([]net.IP, error)) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// New creates a Resolver that refreshes every interval using a bounded
// worker pool. Call Start to launch the workers and Stop to tear them down.
func New(interval time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		workers:  4,
		interval: interval,
		lookup:   defaultLookup,
		jobs:     make(chan *HostRecord, 64),
		results:  make(chan lookupResult, 64),
		stopCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func defaultLookup(ctx context.Context, hostname string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", hostname)
}

// Start launches the worker pool goroutines.
func (r *Resolver) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop signals workers to exit and waits for them.
func (r *Resolver) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Resolver) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case host, ok := <-r.jobs:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			addrs, err := r.lookup(ctx, host.Hostname)
			cancel()
			select {
			case r.results <- lookupResult{host: host, addrs: addrs, err: err}:
			case <-r.stopCh:
				return
			}
		}
	}
}

// AddHost registers a host record and queues its first lookup.
func (r *Resolver) AddHost(hostname, port string, useTLS bool, label string) *HostRecord {
	h := &HostRecord{Hostname: hostname, Port: port, UseTLS: useTLS, Label: label}
	r.mu.Lock()
	r.hosts = append(r.hosts, h)
	r.mu.Unlock()
	r.enqueue(h)
	return h
}

func (r *Resolver) enqueue(h *HostRecord) {
	select {
	case r.jobs <- h:
	default:
		// Job queue saturated; this host's refresh is skipped this round
		// and picked up again on the next periodic sweep.
	}
}

// ArmPeriodicRefresh schedules a recurring sweep on the given timer wheel
// (the reactor's global wheel, per §4.10), enqueueing every tracked host
// for re-resolution every interval.
func (r *Resolver) ArmPeriodicRefresh(w *timerwheel.Wheel) (timerwheel.Handle, error) {
	return w.SchedulePeriodic(r.interval, func(timerwheel.Handle, time.Time) {
		r.mu.Lock()
		hosts := append([]*HostRecord(nil), r.hosts...)
		r.mu.Unlock()
		for _, h := range hosts {
			r.enqueue(h)
		}
	})
}

// Drain applies every result currently buffered in the results channel
// without blocking, aggregating
// failures from this pass into a single multierror before invoking
// OnRefreshError.
func (r *Resolver) Drain() {
	var errs *multierror.Error
	for {
		select {
		case res := <-r.results:
			res.host.apply(res.addrs, res.err)
			if res.err != nil {
				errs = multierror.Append(errs, res.err)
			}
		default:
			if errs != nil && r.OnRefreshError != nil {
				r.OnRefreshError(errs.ErrorOrNil())
			}
			return
		}
	}
}
