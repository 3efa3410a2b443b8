package codec

import (
	"fmt"
	"io"
	"net/netip"
	"time"

	"gopkg.in/yaml.v3"

	"netinventory/internal/domain"
)

// YAMLCodec handles generic YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlInventory represents the YAML structure for device data
type yamlInventory struct {
	Devices []yamlDevice `yaml:"devices"`
}

type yamlDevice struct {
	Address     string    `yaml:"address"`
	Site        string    `yaml:"site"`
	Hostname    string    `yaml:"hostname,omitempty"`
	Status      string    `yaml:"status,omitempty"`
	DeviceGroup string    `yaml:"device_group,omitempty"`
	OpenPorts   []int     `yaml:"open_ports,flow"`
	LastSeen    time.Time `yaml:"last_seen,omitempty"`
	Notes       string    `yaml:"notes,omitempty"`
}

// Parse reads records from a `devices:` list. Missing status defaults to Up
// and a missing group is classified from the ports and hostname.
func (c *YAMLCodec) Parse(r io.Reader) ([]domain.DiscoveredRecord, error) {
	var inv yamlInventory
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&inv); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	records := make([]domain.DiscoveredRecord, 0, len(inv.Devices))
	for _, yd := range inv.Devices {
		rec := domain.DiscoveredRecord{
			Address:     yd.Address,
			Site:        yd.Site,
			Hostname:    yd.Hostname,
			OpenPorts:   yd.OpenPorts,
			DeviceGroup: domain.DeviceGroup(yd.DeviceGroup),
			Status:      domain.Status(yd.Status),
			ObservedAt:  yd.LastSeen,
		}
		if rec.Status == "" {
			rec.Status = domain.StatusUp
		}
		if rec.DeviceGroup == "" {
			rec.DeviceGroup = domain.Classify(rec.OpenPorts, rec.Hostname)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Export writes devices as YAML
func (c *YAMLCodec) Export(devices []*domain.Device, w io.Writer) error {
	inv := yamlInventory{Devices: make([]yamlDevice, 0, len(devices))}
	for _, d := range sortDevices(devices) {
		inv.Devices = append(inv.Devices, yamlDevice{
			Address:     d.Address,
			Site:        d.Site,
			Hostname:    d.Hostname,
			Status:      string(d.Status),
			DeviceGroup: string(d.DeviceGroup),
			OpenPorts:   domain.NormalizePorts(d.OpenPorts),
			LastSeen:    d.LastSeen,
			Notes:       d.Notes,
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&inv); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return nil
}

// addrLess orders IPv4 addresses numerically and anything unparsable last
func addrLess(a, b string) bool {
	pa, errA := netip.ParseAddr(a)
	pb, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		return pa.Less(pb)
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
