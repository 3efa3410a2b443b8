package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"netinventory/internal/domain"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse reads a JSON list of records
func (c *JSONCodec) Parse(r io.Reader) ([]domain.DiscoveredRecord, error) {
	var records []domain.DiscoveredRecord
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return records, nil
}

// Export writes devices as an indented JSON list
func (c *JSONCodec) Export(devices []*domain.Device, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(sortDevices(devices)); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
