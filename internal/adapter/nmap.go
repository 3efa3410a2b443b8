package adapter

import (
	"context"
	"fmt"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

// NmapScanner scans ports by shelling out to nmap. Host discovery is always
// skipped because liveness has already been established by the caller.
type NmapScanner struct {
	binaryPath       string
	serviceDetection bool
	connectScan      bool
	log              logger.Logger
}

// NewNmapScanner creates an nmap-backed port scanner
func NewNmapScanner(log logger.Logger, opts ...NmapOption) *NmapScanner {
	if log == nil {
		log = logger.NewNop()
	}
	s := &NmapScanner{
		connectScan: true, // SYN scans need root
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the backend identifier
func (s *NmapScanner) Name() string {
	return BackendNmap
}

// Available runs a list scan against localhost to prove the binary works
func (s *NmapScanner) Available(ctx context.Context) error {
	opts := []nmap.Option{
		nmap.WithTargets("localhost"),
		nmap.WithListScan(),
	}
	if s.binaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(s.binaryPath))
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return fmt.Errorf("nmap unavailable: %w", err)
	}
	if _, _, err := scanner.Run(); err != nil {
		return fmt.Errorf("nmap unavailable: %w", err)
	}
	return nil
}

// ScanPorts implements PortScanner
func (s *NmapScanner) ScanPorts(ctx context.Context, address string, ports []int, timeout time.Duration) ([]int, error) {
	if len(ports) == 0 {
		return []int{}, nil
	}

	// Same worst case as the connect scanner, plus process start-up slack
	budget := timeout*time.Duration(len(ports)) + 5*time.Second
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	scanner, err := nmap.NewScanner(ctx, s.options(address, ports)...)
	if err != nil {
		return nil, fmt.Errorf("create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("nmap scan of %s: %w", address, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		s.log.Debug("nmap warnings", logger.String("address", address), logger.Strings("warnings", *warnings))
	}

	return openPortsFor(result, address), nil
}

func (s *NmapScanner) options(address string, ports []int) []nmap.Option {
	opts := []nmap.Option{
		nmap.WithTargets(address),
		nmap.WithPorts(domain.JoinPorts(ports)),
		nmap.WithSkipHostDiscovery(),
	}
	if s.connectScan {
		opts = append(opts, nmap.WithConnectScan())
	}
	if s.serviceDetection {
		opts = append(opts, nmap.WithServiceInfo())
	}
	if s.binaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(s.binaryPath))
	}
	return opts
}

// openPortsFor extracts the open ports of address from an nmap run
func openPortsFor(result *nmap.Run, address string) []int {
	if result == nil {
		return []int{}
	}

	var open []int
	for _, host := range result.Hosts {
		if host.Status.State != "up" || !hasAddress(host, address) {
			continue
		}
		for _, port := range host.Ports {
			if port.State.State == "open" {
				open = append(open, int(port.ID))
			}
		}
	}
	return domain.NormalizePorts(open)
}

func hasAddress(host nmap.Host, address string) bool {
	for _, addr := range host.Addresses {
		if addr.AddrType == "ipv4" && addr.Addr == address {
			return true
		}
	}
	return false
}
