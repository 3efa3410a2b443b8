package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

// ErrRunInProgress is returned when a run is requested while one is active
var ErrRunInProgress = errors.New("discovery run already in progress")

// Scheduler runs every target on demand or on a fixed interval. At most one
// sweep is active at a time; overlapping requests are refused.
type Scheduler struct {
	runner   *Runner
	targets  []Target
	interval time.Duration
	log      logger.Logger
	running  atomic.Bool
	last     atomic.Pointer[[]*Report]
}

// NewScheduler creates a scheduler. interval <= 0 disables the ticker.
func NewScheduler(runner *Runner, targets []Target, interval time.Duration, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{runner: runner, targets: targets, interval: interval, log: log}
}

// Targets returns the configured targets
func (s *Scheduler) Targets() []Target {
	return append([]Target(nil), s.targets...)
}

// Running reports whether a sweep is active
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastReports returns the reports of the most recent finished sweep
func (s *Scheduler) LastReports() []*Report {
	if p := s.last.Load(); p != nil {
		return *p
	}
	return nil
}

// RunOnce sweeps every target in order and waits for completion. A
// permission failure stops the sweep; other target errors are logged and the
// next target is tried.
func (s *Scheduler) RunOnce(ctx context.Context) ([]*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.sweep(ctx)
}

// Trigger starts a sweep in the background and returns immediately. It
// returns ErrRunInProgress when a sweep is already active.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	go func() {
		defer s.running.Store(false)
		if _, err := s.sweep(ctx); err != nil {
			s.log.Error("triggered sweep failed", logger.Error(err))
		}
	}()
	return nil
}

func (s *Scheduler) sweep(ctx context.Context) ([]*Report, error) {
	reports := make([]*Report, 0, len(s.targets))
	var errs []error
	for _, t := range s.targets {
		report, err := s.runner.Run(ctx, t)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, err)
			if errors.Is(err, domain.ErrPermissionDenied) || ctx.Err() != nil {
				break
			}
			s.log.Error("target failed", logger.String("cidr", t.CIDR), logger.String("site", t.Site), logger.Error(err))
		}
	}
	s.last.Store(&reports)
	return reports, errors.Join(errs...)
}

// Start blocks, sweeping on every tick until ctx is done. Ticks that land
// while a sweep is still running are skipped.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.log.Info("scheduler started", logger.Duration("interval", s.interval), logger.Int("targets", len(s.targets)))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrRunInProgress) {
					s.log.Warn("skipping tick, previous sweep still running")
					continue
				}
				s.log.Error("scheduled sweep failed", logger.Error(err))
			}
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		}
	}
}
