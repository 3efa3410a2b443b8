package domain

import "errors"

var (
	// ErrPermissionDenied is returned when the liveness probe cannot be built
	// because the process lacks the privilege to open an ICMP socket. It is
	// fatal for a whole discovery run.
	ErrPermissionDenied = errors.New("permission denied: cannot open ICMP socket")

	// ErrNotFound is returned by single-device lookups for an unknown key.
	ErrNotFound = errors.New("device not found")

	// ErrConflict is returned when a manual create targets an existing key.
	ErrConflict = errors.New("device already exists")

	// ErrInvalidRecord wraps every validation failure of a DiscoveredRecord.
	ErrInvalidRecord = errors.New("invalid discovered record")
)
