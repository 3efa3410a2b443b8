// Package probe implements the single-target network primitives used by
// discovery: ICMP liveness, TCP fallback liveness, port reachability and
// reverse name lookup.
//
// Every primitive is bounded by its own timeout and reports failure as a
// negative result rather than an error. The one exception is a missing
// privilege for the ICMP socket, which CheckLivenessPrimary surfaces as
// domain.ErrPermissionDenied so the caller can abort the whole run.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"netinventory/internal/logger"
)

// Options configures a Prober
type Options struct {
	// DNSServer is an ip:port queried directly for PTR records. Empty uses
	// the system resolver.
	DNSServer string

	// Resolver overrides the system resolver when DNSServer is empty
	Resolver *net.Resolver

	Logger logger.Logger
}

// Prober runs probe primitives. It is safe for concurrent use.
type Prober struct {
	dnsServer string
	resolver  *net.Resolver
	icmp      *icmpPinger
	log       logger.Logger
}

// New creates a Prober
func New(opts Options) *Prober {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Prober{
		dnsServer: opts.DNSServer,
		resolver:  resolver,
		icmp:      newICMPPinger(log),
		log:       log,
	}
}

// CheckLivenessPrimary sends one ICMP echo request and waits up to timeout
// for the matching reply.
func (p *Prober) CheckLivenessPrimary(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	return p.icmp.ping(ctx, address, timeout)
}

// CheckLivenessFallback tries a TCP handshake on each candidate port in
// order and reports true on the first one that completes. The connection is
// aborted immediately after.
func (p *Prober) CheckLivenessFallback(ctx context.Context, address string, ports []int, timeout time.Duration) bool {
	for _, port := range ports {
		if ctx.Err() != nil {
			return false
		}
		conn, err := dial(ctx, address, port, timeout)
		if err != nil {
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetLinger(0)
		}
		_ = conn.Close()
		p.log.Debug("fallback probe answered",
			logger.String("address", address),
			logger.Int("port", port))
		return true
	}
	return false
}

// CheckPortOpen reports whether a TCP connect to address:port completes
// within timeout
func (p *Prober) CheckPortOpen(ctx context.Context, address string, port int, timeout time.Duration) bool {
	conn, err := dial(ctx, address, port, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func dial(ctx context.Context, address string, port int, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	return d.DialContext(ctx, "tcp4", net.JoinHostPort(address, strconv.Itoa(port)))
}
