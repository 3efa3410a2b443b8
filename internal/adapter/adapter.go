package adapter

import (
	"context"
	"fmt"
	"time"

	"netinventory/internal/logger"
)

// Backend names accepted by New
const (
	BackendConnect = "connect"
	BackendNmap    = "nmap"
)

// PortScanner finds the open subset of ports on one host
type PortScanner interface {
	// Name returns the backend identifier
	Name() string

	// ScanPorts probes every port in ports and returns the open ones as a
	// sorted set. Each port is bounded by timeout.
	ScanPorts(ctx context.Context, address string, ports []int, timeout time.Duration) ([]int, error)
}

// PortChecker is the single-port primitive ConnectScanner builds on.
// probe.Prober satisfies it.
type PortChecker interface {
	CheckPortOpen(ctx context.Context, address string, port int, timeout time.Duration) bool
}

// New returns the scanner for backend. The nmap backend is checked for a
// usable binary before it is returned.
func New(ctx context.Context, backend string, checker PortChecker, log logger.Logger, opts ...NmapOption) (PortScanner, error) {
	switch backend {
	case "", BackendConnect:
		return NewConnectScanner(checker), nil
	case BackendNmap:
		s := NewNmapScanner(log, opts...)
		if err := s.Available(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown scanner backend %q", backend)
	}
}
