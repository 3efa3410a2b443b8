// Package codec converts registry devices to and from interchange formats.
package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"netinventory/internal/domain"
)

// Importer reads discovered records from an interchange format
type Importer interface {
	Parse(r io.Reader) ([]domain.DiscoveredRecord, error)
	Format() string
}

// Exporter writes registry devices to an interchange format
type Exporter interface {
	Export(devices []*domain.Device, w io.Writer) error
	Format() string
}

// Formats lists the accepted export format names
var Formats = []string{"json", "yaml", "ansible"}

// ExporterFor returns the exporter for a format name
func ExporterFor(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	case "ansible", "ansible-inventory":
		return NewAnsibleCodec(), nil
	}
	return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

// ImporterFor returns the importer for a format name
func ImporterFor(format string) (Importer, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	}
	return nil, fmt.Errorf("unknown import format %q (want json or yaml)", format)
}

// sortDevices orders devices by site then address for stable output
func sortDevices(devices []*domain.Device) []*domain.Device {
	out := make([]*domain.Device, len(devices))
	copy(out, devices)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return addrLess(out[i].Address, out[j].Address)
	})
	return out
}
