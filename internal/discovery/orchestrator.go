package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"netinventory/internal/adapter"
	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

// Prober is the set of single-host primitives the orchestrator needs.
// probe.Prober satisfies it.
type Prober interface {
	CheckLivenessPrimary(ctx context.Context, address string, timeout time.Duration) (bool, error)
	CheckLivenessFallback(ctx context.Context, address string, ports []int, timeout time.Duration) bool
	ResolveHostname(ctx context.Context, address string, timeout time.Duration) string
}

// Options are the orchestrator's constructor-time parameters
type Options struct {
	Ports          []int
	FallbackPorts  []int
	Workers        int
	MaxHosts       int
	ICMPTimeout    time.Duration
	TCPTimeout     time.Duration
	ResolveTimeout time.Duration
}

// Stats counts what happened during one run
type Stats struct {
	HostsScanned int `json:"hosts_scanned"`
	HostsUp      int `json:"hosts_up"`
	Failures     int `json:"failures"`
}

// RunResult is the joined output of one Discover call
type RunResult struct {
	RunID      uuid.UUID                 `json:"run_id"`
	Site       string                    `json:"site"`
	CIDR       string                    `json:"cidr"`
	Prefix     netip.Prefix              `json:"-"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Records    []domain.DiscoveredRecord `json:"records"`
	Stats      Stats                     `json:"stats"`
}

// Orchestrator fans host pipelines out over a bounded worker pool
type Orchestrator struct {
	prober  Prober
	scanner adapter.PortScanner
	opts    Options
	log     logger.Logger
	now     func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(prober Prober, scanner adapter.PortScanner, opts Options, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		prober:  prober,
		scanner: scanner,
		opts:    opts,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Discover probes every host address of cidr and returns a record for each
// live host once all work items have finished.
//
// A per-host error or panic is logged and counted, and that host contributes
// no record. domain.ErrPermissionDenied cancels the remaining work and is
// returned. Cancelling ctx stops dispatch; the result then holds only the
// records that were complete, along with ctx.Err().
func (o *Orchestrator) Discover(ctx context.Context, cidr, site string) (*RunResult, error) {
	prefix, err := ParseTarget(cidr)
	if err != nil {
		return nil, err
	}
	addrs, err := ExpandCIDR(cidr, o.opts.MaxHosts)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		RunID:     uuid.New(),
		Site:      site,
		CIDR:      prefix.String(),
		Prefix:    prefix,
		StartedAt: o.now(),
		Records:   []domain.DiscoveredRecord{},
	}
	log := o.log.With(logger.String("run_id", res.RunID.String()), logger.String("cidr", res.CIDR), logger.String("site", site))
	log.Info("discovery started", logger.Int("hosts", len(addrs)), logger.Int("workers", o.opts.Workers))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var mu sync.Mutex
	pool := NewPool(o.opts.Workers)

	for _, addr := range addrs {
		address := addr.String()
		err := pool.Submit(runCtx, func() {
			if runCtx.Err() != nil {
				return
			}
			rec, err := o.probeHost(runCtx, address, site)

			mu.Lock()
			defer mu.Unlock()
			res.Stats.HostsScanned++
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrPermissionDenied):
				cancel(err)
				return
			case runCtx.Err() != nil:
				// abandoned by cancellation, not a host failure
				return
			default:
				res.Stats.Failures++
				log.Warn("host failed", logger.String("address", address), logger.Error(err))
				return
			}
			if rec != nil {
				res.Stats.HostsUp++
				res.Records = append(res.Records, *rec)
			}
		})
		if err != nil {
			break
		}
	}
	pool.Close()
	pool.Wait()

	sort.Slice(res.Records, func(i, j int) bool {
		a, _ := netip.ParseAddr(res.Records[i].Address)
		b, _ := netip.ParseAddr(res.Records[j].Address)
		return a.Less(b)
	})
	res.FinishedAt = o.now()

	if cause := context.Cause(runCtx); errors.Is(cause, domain.ErrPermissionDenied) {
		log.Error("discovery aborted", logger.Error(cause))
		return res, cause
	}
	if err := ctx.Err(); err != nil {
		log.Warn("discovery cancelled", logger.Int("records", len(res.Records)))
		return res, err
	}

	log.Info("discovery finished",
		logger.Int("hosts_scanned", res.Stats.HostsScanned),
		logger.Int("hosts_up", res.Stats.HostsUp),
		logger.Int("failures", res.Stats.Failures),
		logger.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

// probeHost runs the per-host pipeline. A nil record with a nil error means
// the host did not answer either liveness strategy.
func (o *Orchestrator) probeHost(ctx context.Context, address, site string) (rec *domain.DiscoveredRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, panicError(r)
		}
	}()

	alive, err := o.prober.CheckLivenessPrimary(ctx, address, o.opts.ICMPTimeout)
	if err != nil {
		return nil, err
	}
	if !alive {
		alive = o.prober.CheckLivenessFallback(ctx, address, o.opts.FallbackPorts, o.opts.TCPTimeout)
	}
	if !alive {
		return nil, nil
	}

	var (
		ports    []int
		hostname string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(func() error {
		var err error
		ports, err = o.scanner.ScanPorts(gctx, address, o.opts.Ports, o.opts.TCPTimeout)
		if err != nil {
			return fmt.Errorf("port scan: %w", err)
		}
		return nil
	}))
	g.Go(guard(func() error {
		hostname = o.prober.ResolveHostname(gctx, address, o.opts.ResolveTimeout)
		return nil
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports = domain.NormalizePorts(ports)
	return &domain.DiscoveredRecord{
		Address:     address,
		Site:        site,
		Hostname:    hostname,
		OpenPorts:   ports,
		DeviceGroup: domain.Classify(ports, hostname),
		Status:      domain.StatusUp,
		ObservedAt:  o.now(),
	}, nil
}

// guard turns a panic inside an errgroup goroutine into that goroutine's error
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
			}
		}()
		return fn()
	}
}

func panicError(r any) error {
	return fmt.Errorf("panic: %v\n%s", r, debug.Stack())
}
