package adapter

import (
	"context"
	"time"

	"netinventory/internal/domain"
)

// ConnectScanner probes ports one after another with TCP connects. Worst
// case per host is timeout * len(ports); cancellation stops it early.
type ConnectScanner struct {
	checker PortChecker
}

// NewConnectScanner creates a connect-based port scanner
func NewConnectScanner(checker PortChecker) *ConnectScanner {
	return &ConnectScanner{checker: checker}
}

// Name returns the backend identifier
func (s *ConnectScanner) Name() string {
	return BackendConnect
}

// ScanPorts implements PortScanner
func (s *ConnectScanner) ScanPorts(ctx context.Context, address string, ports []int, timeout time.Duration) ([]int, error) {
	var open []int
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.checker.CheckPortOpen(ctx, address, port, timeout) {
			open = append(open, port)
		}
	}
	return domain.NormalizePorts(open), nil
}
