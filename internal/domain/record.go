package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DiscoveredRecord is what the discovery engine reports for one live host
type DiscoveredRecord struct {
	Address     string      `json:"address"`
	Site        string      `json:"site"`
	Hostname    string      `json:"hostname"`
	OpenPorts   PortSet     `json:"open_ports"`
	DeviceGroup DeviceGroup `json:"device_group"`
	Status      Status      `json:"status"`
	ObservedAt  time.Time   `json:"observed_at"`
}

// Key returns the registry key the record is reconciled against
func (r DiscoveredRecord) Key() DeviceKey {
	return DeviceKey{Address: r.Address, Site: r.Site}
}

// Validate checks every field. All failures wrap ErrInvalidRecord.
func (r DiscoveredRecord) Validate() error {
	addr, err := netip.ParseAddr(r.Address)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("%w: address %q is not an IPv4 address", ErrInvalidRecord, r.Address)
	}
	if strings.TrimSpace(r.Site) == "" {
		return fmt.Errorf("%w: site is required", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if !r.DeviceGroup.Valid() {
		return fmt.Errorf("%w: unknown device group %q", ErrInvalidRecord, r.DeviceGroup)
	}
	for _, p := range r.OpenPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidRecord, p)
		}
	}
	if r.ObservedAt.IsZero() {
		return fmt.Errorf("%w: observed_at is required", ErrInvalidRecord)
	}
	return nil
}

// Normalized returns a copy with a canonical address, trimmed strings, a
// deduplicated sorted port set and a UTC timestamp. Call after Validate.
func (r DiscoveredRecord) Normalized() DiscoveredRecord {
	if addr, err := netip.ParseAddr(r.Address); err == nil {
		r.Address = addr.String()
	}
	r.Site = strings.TrimSpace(r.Site)
	r.Hostname = strings.TrimSuffix(strings.TrimSpace(r.Hostname), ".")
	r.OpenPorts = NormalizePorts(r.OpenPorts)
	r.ObservedAt = r.ObservedAt.UTC()
	return r
}

// PortSet is a set of TCP ports. On the wire it is a JSON list; a
// comma-joined string such as "22,80,443" is also accepted.
type PortSet []int

// MarshalJSON always emits a list, never null
func (p PortSet) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int(p))
}

// UnmarshalJSON accepts a list of ints, a comma-joined string or null
func (p *PortSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ports, err := ParsePorts(s)
		if err != nil {
			return err
		}
		*p = ports
		return nil
	}
	var ports []int
	if err := json.Unmarshal(data, &ports); err != nil {
		return fmt.Errorf("open_ports must be a list or a comma-joined string: %w", err)
	}
	*p = ports
	return nil
}

// Contains reports whether port is in the set
func (p PortSet) Contains(port int) bool {
	for _, v := range p {
		if v == port {
			return true
		}
	}
	return false
}

// ParsePorts parses "22,80, 443" into ports. Empty input yields nil.
func ParsePorts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		ports = append(ports, n)
	}
	return ports, nil
}

// JoinPorts renders ports as a comma-joined string
func JoinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// NormalizePorts returns a sorted copy without duplicates. Order carries
// no meaning downstream; sorting only makes equality checks cheap.
func NormalizePorts(ports []int) []int {
	if len(ports) == 0 {
		return []int{}
	}
	seen := make(map[int]struct{}, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// PortsEqual compares two port lists as sets
func PortsEqual(a, b []int) bool {
	na, nb := NormalizePorts(a), NormalizePorts(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}
