package discovery

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseTarget accepts an IPv4 CIDR block or a bare IPv4 address, which is
// treated as a /32. The returned prefix is masked.
func ParseTarget(target string) (netip.Prefix, error) {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "/") {
		p, err := netip.ParsePrefix(target)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", target, err)
		}
		if !p.Addr().Is4() {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: only IPv4 is supported", target)
		}
		return p.Masked(), nil
	}

	a, err := netip.ParseAddr(target)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if !a.Is4() {
		return netip.Prefix{}, fmt.Errorf("invalid target %q: only IPv4 is supported", target)
	}
	return netip.PrefixFrom(a, 32), nil
}

// ExpandCIDR returns the host addresses of target in ascending order. The
// network and broadcast addresses are skipped for /30 and larger blocks;
// /31 and /32 return every address. Ranges with more than maxHosts hosts are
// rejected; maxHosts <= 0 means no cap.
func ExpandCIDR(target string, maxHosts int) ([]netip.Addr, error) {
	prefix, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	bits := prefix.Bits()
	total := 1 << (32 - bits)
	skipEdges := bits <= 30
	hosts := total
	if skipEdges {
		hosts -= 2
	}
	if maxHosts > 0 && hosts > maxHosts {
		return nil, fmt.Errorf("%s has %d hosts, more than the limit of %d", prefix, hosts, maxHosts)
	}

	addrs := make([]netip.Addr, 0, hosts)
	first := prefix.Addr()
	for i, a := 0, first; i < total; i, a = i+1, a.Next() {
		if skipEdges && (i == 0 || i == total-1) {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}
