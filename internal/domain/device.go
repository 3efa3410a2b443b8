package domain

import (
	"fmt"
	"time"
)

// Status is the liveness verdict for a device
type Status string

const (
	StatusUp   Status = "Up"
	StatusDown Status = "Down"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	return s == StatusUp || s == StatusDown
}

// ParseStatus accepts the canonical spelling and common lower-case forms
func ParseStatus(s string) (Status, error) {
	switch s {
	case "Up", "up", "UP":
		return StatusUp, nil
	case "Down", "down", "DOWN":
		return StatusDown, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// History messages written by the registry
const (
	MessageDiscovered    = "Device discovered"
	MessageAddedManually = "Device added manually"
)

// StatusChangeMessage describes a status transition
func StatusChangeMessage(from, to Status) string {
	return fmt.Sprintf("Status changed from %s → %s", from, to)
}

// DeviceKey is the natural identity of a device
type DeviceKey struct {
	Address string `json:"address"`
	Site    string `json:"site"`
}

func (k DeviceKey) String() string {
	return k.Site + "/" + k.Address
}

// Device is the registry's canonical state for one host on one site
type Device struct {
	ID          int64       `json:"id"`
	Address     string      `json:"address"`
	Site        string      `json:"site"`
	Hostname    string      `json:"hostname"`
	Status      Status      `json:"status"`
	DeviceGroup DeviceGroup `json:"device_group"`
	OpenPorts   []int       `json:"open_ports"`
	LastSeen    time.Time   `json:"last_seen"`

	// MissedScans counts consecutive scans that covered the address without
	// seeing the device. Reset on every sighting.
	MissedScans int    `json:"missed_scans"`
	Notes       string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the device's natural key
func (d *Device) Key() DeviceKey {
	return DeviceKey{Address: d.Address, Site: d.Site}
}

// Clone returns a deep copy so callers cannot mutate registry state
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.OpenPorts != nil {
		c.OpenPorts = append([]int{}, d.OpenPorts...)
	}
	return &c
}

// NewDeviceFromRecord creates a device populated from a first sighting.
// The ID is assigned by the store.
func NewDeviceFromRecord(rec DiscoveredRecord) *Device {
	now := time.Now().UTC()
	return &Device{
		Address:     rec.Address,
		Site:        rec.Site,
		Hostname:    rec.Hostname,
		Status:      rec.Status,
		DeviceGroup: rec.DeviceGroup,
		OpenPorts:   NormalizePorts(rec.OpenPorts),
		LastSeen:    rec.ObservedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HistoryEntry is an immutable note attached to a device
type HistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
}

// DeviceFilter narrows ListDevices. Zero Limit means unlimited.
type DeviceFilter struct {
	Site  string
	Limit int
}

// DeviceEdit carries operator changes; nil fields are left untouched
type DeviceEdit struct {
	Hostname    *string      `json:"hostname,omitempty"`
	DeviceGroup *DeviceGroup `json:"device_group,omitempty"`
	Notes       *string      `json:"notes,omitempty"`
}

// Empty reports whether the edit changes nothing
func (e DeviceEdit) Empty() bool {
	return e.Hostname == nil && e.DeviceGroup == nil && e.Notes == nil
}
