package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Retrying retries transient failures of the wrapped submitter with
// exponential backoff. Permanent failures return immediately.
type Retrying struct {
	next        Submitter
	maxAttempts uint
	initial     time.Duration
	max         time.Duration
	log         logger.Logger
}

// NewRetrying wraps next. maxAttempts counts the first try; values below 1
// mean a single attempt.
func NewRetrying(next Submitter, maxAttempts int, log logger.Logger) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Retrying{
		next:        next,
		maxAttempts: uint(maxAttempts),
		initial:     defaultInitialBackoff,
		max:         defaultMaxBackoff,
		log:         log,
	}
}

// SetBackoff overrides the initial and maximum wait between attempts
func (r *Retrying) SetBackoff(initial, max time.Duration) {
	r.initial, r.max = initial, max
}

// Submit tries rec up to maxAttempts times
func (r *Retrying) Submit(ctx context.Context, rec domain.DiscoveredRecord) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	bo.MaxInterval = r.max
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := r.next.Submit(ctx, rec)
		if err == nil {
			return struct{}{}, nil
		}
		if IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		r.log.Debug("submit attempt failed",
			logger.String("address", rec.Address),
			logger.Int("attempt", attempt),
			logger.Error(err))
		return struct{}{}, err
	}

	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(r.maxAttempts)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("submit %s after %d attempt(s): %w", rec.Key(), attempt, err)
	}
	return nil
}
