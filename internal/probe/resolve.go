package probe

import (
	"context"
	"strings"
	"time"

	"github.com/miekg/dns"

	"netinventory/internal/logger"
)

// ResolveHostname performs a reverse lookup for address. A missing name is a
// normal outcome: failures, NXDOMAIN and timeouts all yield "".
func (p *Prober) ResolveHostname(ctx context.Context, address string, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var name string
	if p.dnsServer != "" {
		name = p.queryPTR(ctx, address, timeout)
	} else {
		names, err := p.resolver.LookupAddr(ctx, address)
		if err == nil && len(names) > 0 {
			name = names[0]
		}
	}
	return strings.TrimSuffix(name, ".")
}

func (p *Prober) queryPTR(ctx context.Context, address string, timeout time.Duration) string {
	arpa, err := dns.ReverseAddr(address)
	if err != nil {
		return ""
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)

	c := &dns.Client{Timeout: timeout}
	in, _, err := c.ExchangeContext(ctx, m, p.dnsServer)
	if err != nil {
		p.log.Debug("ptr query failed", logger.String("address", address), logger.Error(err))
		return ""
	}
	if in.Rcode != dns.RcodeSuccess {
		return ""
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return ptr.Ptr
		}
	}
	return ""
}
