package discovery

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"netinventory/internal/domain"
)

// fakeProber answers from fixed tables and tracks peak concurrency
type fakeProber struct {
	primary   map[string]bool
	fallback  map[string]bool
	names     map[string]string
	primeErr  error
	delay     time.Duration
	active    atomic.Int32
	peak      atomic.Int32
	fallbacks atomic.Int32
}

func (f *fakeProber) CheckLivenessPrimary(ctx context.Context, address string, _ time.Duration) (bool, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return false, nil
		}
	}
	if f.primeErr != nil {
		return false, f.primeErr
	}
	return f.primary[address], nil
}

func (f *fakeProber) CheckLivenessFallback(_ context.Context, address string, _ []int, _ time.Duration) bool {
	f.fallbacks.Add(1)
	return f.fallback[address]
}

func (f *fakeProber) ResolveHostname(_ context.Context, address string, _ time.Duration) string {
	return f.names[address]
}

// fakeScanner returns fixed ports, and fails or panics for chosen hosts
type fakeScanner struct {
	ports   map[string][]int
	failOn  map[string]bool
	panicOn map[string]bool
}

func (f *fakeScanner) Name() string { return "fake" }

func (f *fakeScanner) ScanPorts(_ context.Context, address string, _ []int, _ time.Duration) ([]int, error) {
	if f.panicOn[address] {
		panic("scanner exploded")
	}
	if f.failOn[address] {
		return nil, errors.New("socket exhausted")
	}
	return f.ports[address], nil
}

type fakeSubmitter struct {
	mu     sync.Mutex
	failOn map[string]bool
	got    []domain.DiscoveredRecord
}

func (f *fakeSubmitter) Submit(_ context.Context, rec domain.DiscoveredRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[rec.Address] {
		return errors.New("registry unavailable")
	}
	f.got = append(f.got, rec)
	return nil
}

type fakeReconciler struct {
	calls  int
	site   string
	scope  netip.Prefix
	seen   []string
	marked int
	err    error
}

func (f *fakeReconciler) ReconcileAbsent(_ context.Context, site string, scope netip.Prefix, seen []string, _ time.Time) (int, error) {
	f.calls++
	f.site, f.scope, f.seen = site, scope, seen
	return f.marked, f.err
}

type fakeDiscoverer struct {
	mu      sync.Mutex
	result  *RunResult
	err     error
	block   chan struct{}
	calls   int
	targets []Target
}

func (f *fakeDiscoverer) Discover(ctx context.Context, cidr, site string) (*RunResult, error) {
	f.mu.Lock()
	f.calls++
	f.targets = append(f.targets, Target{CIDR: cidr, Site: site})
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishDiscoveryEvent(eventType string, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}
