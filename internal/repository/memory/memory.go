// Package memory is a map-backed repository.Store. It keeps the same
// contract as the sqlite store, including key uniqueness and chronological
// history, but nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"netinventory/internal/domain"
)

// Repository implements repository.Store in memory
type Repository struct {
	mu        sync.RWMutex
	devices   map[int64]*domain.Device
	byKey     map[domain.DeviceKey]int64
	history   map[int64][]domain.HistoryEntry
	nextID    int64
	nextEntry int64
}

// New creates an empty store
func New() *Repository {
	return &Repository{
		devices: make(map[int64]*domain.Device),
		byKey:   make(map[domain.DeviceKey]int64),
		history: make(map[int64][]domain.HistoryEntry),
	}
}

// GetDevice retrieves a device by its natural key
func (r *Repository) GetDevice(_ context.Context, key domain.DeviceKey) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.devices[id].Clone(), nil
}

// GetDeviceByID retrieves a device by its store ID
func (r *Repository) GetDeviceByID(_ context.Context, id int64) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return dev.Clone(), nil
}

// ListDevices returns devices most recently seen first
func (r *Repository) ListDevices(_ context.Context, filter domain.DeviceFilter) ([]*domain.Device, error) {
	r.mu.RLock()
	out := make([]*domain.Device, 0, len(r.devices))
	for _, dev := range r.devices {
		if filter.Site != "" && dev.Site != filter.Site {
			continue
		}
		out = append(out, dev.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// History returns a device's entries in insertion order
func (r *Repository) History(_ context.Context, deviceID int64) ([]domain.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.history[deviceID]
	out := make([]domain.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// CreateDevice inserts dev and its optional first entry
func (r *Repository) CreateDevice(_ context.Context, dev *domain.Device, entry *domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dev.Key()
	if _, ok := r.byKey[key]; ok {
		return fmt.Errorf("%s: %w", key, domain.ErrConflict)
	}
	r.nextID++
	dev.ID = r.nextID
	r.devices[dev.ID] = dev.Clone()
	r.byKey[key] = dev.ID

	if entry != nil {
		r.appendLocked(dev.ID, entry)
	}
	return nil
}

// UpdateDevice overwrites an existing device and appends entry if non-nil
func (r *Repository) UpdateDevice(_ context.Context, dev *domain.Device, entry *domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.devices[dev.ID]
	if !ok {
		return fmt.Errorf("device %d: %w", dev.ID, domain.ErrNotFound)
	}
	next := dev.Clone()
	// Identity columns are immutable, as in the sqlite UPDATE
	next.Address, next.Site, next.CreatedAt = cur.Address, cur.Site, cur.CreatedAt
	r.devices[dev.ID] = next

	if entry != nil {
		r.appendLocked(dev.ID, entry)
	}
	return nil
}

func (r *Repository) appendLocked(deviceID int64, entry *domain.HistoryEntry) {
	r.nextEntry++
	entry.ID = r.nextEntry
	entry.DeviceID = deviceID
	r.history[deviceID] = append(r.history[deviceID], *entry)
}

// DeleteDevice removes a device and its history
func (r *Repository) DeleteDevice(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %d: %w", id, domain.ErrNotFound)
	}
	delete(r.byKey, dev.Key())
	delete(r.devices, id)
	delete(r.history, id)
	return nil
}

// Close is a no-op
func (r *Repository) Close() error { return nil }
