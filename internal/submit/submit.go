// Package submit delivers discovered records to the registry, either in
// process or over HTTP, with bounded retry.
package submit

import (
	"context"
	"errors"
	"fmt"

	"netinventory/internal/domain"
)

// Submitter sends one record to the registry
type Submitter interface {
	Submit(ctx context.Context, rec domain.DiscoveredRecord) error
}

// Upserter is the registry side of a local submission
type Upserter interface {
	Upsert(ctx context.Context, rec domain.DiscoveredRecord) (*domain.Device, error)
}

// Local submits straight into an in-process registry
type Local struct {
	registry Upserter
}

// NewLocal creates a Local submitter
func NewLocal(registry Upserter) *Local {
	return &Local{registry: registry}
}

// Submit upserts rec
func (l *Local) Submit(ctx context.Context, rec domain.DiscoveredRecord) error {
	if _, err := l.registry.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	return nil
}

// StatusError is a non-2xx answer from a remote registry
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry returned %d", e.Code)
	}
	return fmt.Sprintf("registry returned %d: %s", e.Code, e.Body)
}

// IsPermanent reports whether retrying err cannot succeed: invalid records
// and 4xx answers other than 408 and 429.
func IsPermanent(err error) bool {
	if errors.Is(err, domain.ErrInvalidRecord) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 && se.Code != 408 && se.Code != 429
	}
	return false
}
