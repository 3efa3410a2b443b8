package discovery

import (
	"context"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

// Discoverer produces the joined record set for one target.
// *Orchestrator satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, cidr, site string) (*RunResult, error)
}

// Submitter delivers one record to the registry
type Submitter interface {
	Submit(ctx context.Context, rec domain.DiscoveredRecord) error
}

// AbsenceReconciler applies the missed-scan policy after a complete run.
// Implemented by the registry service when it runs in process.
type AbsenceReconciler interface {
	ReconcileAbsent(ctx context.Context, site string, scope netip.Prefix, seen []string, at time.Time) (int, error)
}

// EventPublisher receives run lifecycle events
type EventPublisher interface {
	PublishDiscoveryEvent(eventType string, payload interface{})
}

// Discovery event types
const (
	EventScanStarted   = "scan_started"
	EventScanCompleted = "scan_completed"
	EventScanFailed    = "scan_failed"
)

// Target is one address range swept as one site
type Target struct {
	CIDR string `json:"cidr"`
	Site string `json:"site"`
}

// Report summarizes one run end to end
type Report struct {
	RunID        uuid.UUID     `json:"run_id"`
	Site         string        `json:"site"`
	CIDR         string        `json:"cidr"`
	HostsScanned int           `json:"hosts_scanned"`
	HostsUp      int           `json:"hosts_up"`
	Pushed       int           `json:"pushed"`
	PushFailures int           `json:"push_failures"`
	Failures     int           `json:"failures"`
	MarkedDown   int           `json:"marked_down"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Runner ties discovery to submission and absence reconciliation
type Runner struct {
	discoverer Discoverer
	submitter  Submitter
	reconciler AbsenceReconciler
	publisher  EventPublisher
	log        logger.Logger
}

// RunnerOption configures optional Runner collaborators
type RunnerOption func(*Runner)

// WithReconciler enables the missed-scan policy
func WithReconciler(r AbsenceReconciler) RunnerOption {
	return func(rn *Runner) { rn.reconciler = r }
}

// WithPublisher emits scan lifecycle events
func WithPublisher(p EventPublisher) RunnerOption {
	return func(rn *Runner) { rn.publisher = p }
}

// NewRunner creates a Runner
func NewRunner(d Discoverer, s Submitter, log logger.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Runner{discoverer: d, submitter: s, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run discovers target, submits each record one at a time and reconciles
// absence. Submission failures are counted, not fatal. An error is returned
// only when discovery itself could not complete; the report then carries
// whatever was counted.
func (r *Runner) Run(ctx context.Context, target Target) (*Report, error) {
	started := time.Now()
	r.publish(EventScanStarted, target)

	res, err := r.discoverer.Discover(ctx, target.CIDR, target.Site)
	if res == nil {
		r.publish(EventScanFailed, map[string]interface{}{"target": target, "error": errString(err)})
		return nil, err
	}

	report := &Report{
		RunID:        res.RunID,
		Site:         res.Site,
		CIDR:         res.CIDR,
		HostsScanned: res.Stats.HostsScanned,
		HostsUp:      res.Stats.HostsUp,
		Failures:     res.Stats.Failures,
	}
	if err != nil {
		report.Elapsed = time.Since(started)
		r.publish(EventScanFailed, map[string]interface{}{"report": report, "error": errString(err)})
		return report, err
	}

	log := r.log.With(logger.String("run_id", res.RunID.String()))
	seen := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		if err := r.submitter.Submit(ctx, rec); err != nil {
			report.PushFailures++
			log.Warn("submit failed", logger.String("address", rec.Address), logger.Error(err))
			continue
		}
		report.Pushed++
		seen = append(seen, rec.Address)
	}

	// Only reconcile when every sighting reached the registry, otherwise a
	// failed push would count as a miss.
	if r.reconciler != nil && report.PushFailures == 0 {
		marked, err := r.reconciler.ReconcileAbsent(ctx, res.Site, res.Prefix, seen, res.FinishedAt)
		if err != nil {
			log.Error("absence reconciliation failed", logger.Error(err))
		}
		report.MarkedDown = marked
	}

	report.Elapsed = time.Since(started)
	log.Info("run complete",
		logger.String("cidr", report.CIDR),
		logger.String("site", report.Site),
		logger.Int("hosts_scanned", report.HostsScanned),
		logger.Int("hosts_up", report.HostsUp),
		logger.Int("pushed", report.Pushed),
		logger.Int("push_failures", report.PushFailures),
		logger.Int("failures", report.Failures),
		logger.Int("marked_down", report.MarkedDown))
	r.publish(EventScanCompleted, report)
	return report, nil
}

func (r *Runner) publish(eventType string, payload interface{}) {
	if r.publisher != nil {
		r.publisher.PublishDiscoveryEvent(eventType, payload)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
