package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"netinventory/internal/domain"
	"netinventory/internal/logger"
	"netinventory/internal/repository"
)

// DefaultMissedThreshold is how many consecutive misses mark a device Down
const DefaultMissedThreshold = 3

// StatusChange is the payload of EventDeviceStatusChanged
type StatusChange struct {
	Device *domain.Device `json:"device"`
	From   domain.Status  `json:"from"`
	To     domain.Status  `json:"to"`
}

// Registry is the authoritative device inventory. Every mutation for a key
// runs under that key's lock, so concurrent upserts of one device are
// serialized while different devices proceed in parallel.
type Registry struct {
	store           repository.Store
	locks           *KeyLocks
	eventBus        *EventBus
	log             logger.Logger
	missedThreshold int
	now             func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithEventBus publishes registry events on bus
func WithEventBus(bus *EventBus) Option {
	return func(r *Registry) { r.eventBus = bus }
}

// WithLogger sets the registry logger
func WithLogger(log logger.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMissedThreshold sets how many consecutive misses mark a device Down.
// Zero disables absence handling.
func WithMissedThreshold(n int) Option {
	return func(r *Registry) { r.missedThreshold = n }
}

// WithClock overrides the time source used for manual operations
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry over store
func NewRegistry(store repository.Store, opts ...Option) *Registry {
	r := &Registry{
		store:           store,
		locks:           NewKeyLocks(),
		log:             logger.NewNop(),
		missedThreshold: DefaultMissedThreshold,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert reconciles one discovered record against the registry
func (r *Registry) Upsert(ctx context.Context, rec domain.DiscoveredRecord) (*domain.Device, error) {
	rec = rec.Normalized()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	key := rec.Key()
	unlock := r.locks.Lock(key)
	defer unlock()

	existing, err := r.store.GetDevice(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		dev, err := r.createLocked(ctx, rec, domain.MessageDiscovered, rec.ObservedAt)
		if err != nil {
			return nil, err
		}
		r.log.Info("device discovered",
			logger.String("address", dev.Address),
			logger.String("site", dev.Site),
			logger.String("group", string(dev.DeviceGroup)))
		r.eventBus.Publish(Event{Type: EventDeviceDiscovered, Payload: dev.Clone()})
		return dev, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}

	dev := existing
	prev := dev.Status
	if unchanged(dev, rec) {
		return dev, nil
	}
	if rec.Hostname != "" {
		dev.Hostname = rec.Hostname
	}
	dev.DeviceGroup = rec.DeviceGroup
	dev.OpenPorts = rec.OpenPorts
	dev.LastSeen = rec.ObservedAt
	dev.MissedScans = 0
	dev.UpdatedAt = r.now()

	var entry *domain.HistoryEntry
	if prev != rec.Status {
		dev.Status = rec.Status
		entry = &domain.HistoryEntry{
			Timestamp: rec.ObservedAt,
			Status:    rec.Status,
			Message:   domain.StatusChangeMessage(prev, rec.Status),
		}
	}

	if err := r.store.UpdateDevice(ctx, dev, entry); err != nil {
		return nil, fmt.Errorf("update %s: %w", key, err)
	}

	if entry != nil {
		r.log.Info("device status changed",
			logger.String("address", dev.Address),
			logger.String("site", dev.Site),
			logger.String("from", string(prev)),
			logger.String("to", string(dev.Status)))
		r.eventBus.Publish(Event{
			Type:    EventDeviceStatusChanged,
			Payload: StatusChange{Device: dev.Clone(), From: prev, To: dev.Status},
		})
	} else {
		r.eventBus.Publish(Event{Type: EventDeviceUpdated, Payload: dev.Clone()})
	}
	return dev, nil
}

// createLocked inserts a new device with its first history entry. The
// caller holds the key lock.
func (r *Registry) createLocked(ctx context.Context, rec domain.DiscoveredRecord, message string, at time.Time) (*domain.Device, error) {
	dev := domain.NewDeviceFromRecord(rec)
	now := r.now()
	dev.CreatedAt, dev.UpdatedAt = now, now

	entry := &domain.HistoryEntry{Timestamp: at, Status: dev.Status, Message: message}
	if err := r.store.CreateDevice(ctx, dev, entry); err != nil {
		return nil, fmt.Errorf("create %s: %w", rec.Key(), err)
	}
	return dev, nil
}

// AddManual creates a device on operator request. An existing key is a
// conflict, never an overwrite.
func (r *Registry) AddManual(ctx context.Context, rec domain.DiscoveredRecord) (*domain.Device, error) {
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = r.now()
	}
	if rec.Status == "" {
		rec.Status = domain.StatusUp
	}
	if rec.DeviceGroup == "" {
		rec.DeviceGroup = domain.Classify(rec.OpenPorts, rec.Hostname)
	}
	rec = rec.Normalized()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	key := rec.Key()
	unlock := r.locks.Lock(key)
	defer unlock()

	if _, err := r.store.GetDevice(ctx, key); err == nil {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}

	dev, err := r.createLocked(ctx, rec, domain.MessageAddedManually, r.now())
	if err != nil {
		return nil, err
	}
	r.log.Info("device added manually", logger.String("address", dev.Address), logger.String("site", dev.Site))
	r.eventBus.Publish(Event{Type: EventDeviceDiscovered, Payload: dev.Clone()})
	return dev, nil
}

// Annotate applies an operator edit and records which fields changed
func (r *Registry) Annotate(ctx context.Context, id int64, edit domain.DeviceEdit) (*domain.Device, error) {
	if edit.DeviceGroup != nil && !edit.DeviceGroup.Valid() {
		return nil, fmt.Errorf("%w: unknown device group %q", domain.ErrInvalidRecord, *edit.DeviceGroup)
	}

	current, err := r.store.GetDeviceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := r.locks.Lock(current.Key())
	defer unlock()

	// Re-read under the lock
	dev, err := r.store.GetDeviceByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var changed []string
	if edit.Hostname != nil {
		if h := strings.TrimSuffix(strings.TrimSpace(*edit.Hostname), "."); h != dev.Hostname {
			dev.Hostname = h
			changed = append(changed, "hostname")
		}
	}
	if edit.DeviceGroup != nil && *edit.DeviceGroup != dev.DeviceGroup {
		dev.DeviceGroup = *edit.DeviceGroup
		changed = append(changed, "device_group")
	}
	if edit.Notes != nil && *edit.Notes != dev.Notes {
		dev.Notes = *edit.Notes
		changed = append(changed, "notes")
	}
	if len(changed) == 0 {
		return dev, nil
	}

	dev.UpdatedAt = r.now()
	entry := &domain.HistoryEntry{
		Timestamp: dev.UpdatedAt,
		Status:    dev.Status,
		Message:   "Device edited manually: " + strings.Join(changed, ", "),
	}
	if err := r.store.UpdateDevice(ctx, dev, entry); err != nil {
		return nil, fmt.Errorf("update device %d: %w", id, err)
	}
	r.eventBus.Publish(Event{Type: EventDeviceEdited, Payload: dev.Clone()})
	return dev, nil
}

// Delete removes a device and its history
func (r *Registry) Delete(ctx context.Context, id int64) error {
	dev, err := r.store.GetDeviceByID(ctx, id)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(dev.Key())
	defer unlock()

	if err := r.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	r.log.Info("device deleted", logger.String("address", dev.Address), logger.String("site", dev.Site))
	r.eventBus.Publish(Event{Type: EventDeviceDeleted, Payload: dev})
	return nil
}

// ListDevices returns a snapshot, most recently seen first
func (r *Registry) ListDevices(ctx context.Context, filter domain.DeviceFilter) ([]*domain.Device, error) {
	return r.store.ListDevices(ctx, filter)
}

// GetDevice returns the device for key or domain.ErrNotFound
func (r *Registry) GetDevice(ctx context.Context, key domain.DeviceKey) (*domain.Device, error) {
	return r.store.GetDevice(ctx, key)
}

// GetDeviceByID returns the device with id or domain.ErrNotFound
func (r *Registry) GetDeviceByID(ctx context.Context, id int64) (*domain.Device, error) {
	return r.store.GetDeviceByID(ctx, id)
}

// unchanged reports whether applying rec would leave dev as it is
func unchanged(dev *domain.Device, rec domain.DiscoveredRecord) bool {
	return (rec.Hostname == "" || rec.Hostname == dev.Hostname) &&
		rec.DeviceGroup == dev.DeviceGroup &&
		domain.PortsEqual(rec.OpenPorts, dev.OpenPorts) &&
		rec.ObservedAt.Equal(dev.LastSeen) &&
		rec.Status == dev.Status &&
		dev.MissedScans == 0
}

// GetHistory returns the device's history in chronological order. An unknown
// key yields an empty list.
func (r *Registry) GetHistory(ctx context.Context, key domain.DeviceKey) ([]domain.HistoryEntry, error) {
	dev, err := r.store.GetDevice(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return r.store.History(ctx, dev.ID)
}

// GetHistoryByID is GetHistory addressed by store ID. An unknown ID yields
// an empty list.
func (r *Registry) GetHistoryByID(ctx context.Context, id int64) ([]domain.HistoryEntry, error) {
	_, err := r.store.GetDeviceByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return r.store.History(ctx, id)
}
