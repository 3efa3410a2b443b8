package repository

import (
	"context"

	"netinventory/internal/domain"
)

// Store is the registry's data access interface
type Store interface {
	// Read operations. Single-device lookups return domain.ErrNotFound.
	GetDevice(ctx context.Context, key domain.DeviceKey) (*domain.Device, error)
	GetDeviceByID(ctx context.Context, id int64) (*domain.Device, error)
	ListDevices(ctx context.Context, filter domain.DeviceFilter) ([]*domain.Device, error)
	History(ctx context.Context, deviceID int64) ([]domain.HistoryEntry, error)

	// CreateDevice inserts dev and assigns dev.ID. When entry is non-nil it is
	// written in the same transaction with DeviceID set to the new ID.
	// Returns domain.ErrConflict if the key already exists.
	CreateDevice(ctx context.Context, dev *domain.Device, entry *domain.HistoryEntry) error

	// UpdateDevice overwrites the mutable columns of an existing device and
	// appends entry (if any) in the same transaction.
	UpdateDevice(ctx context.Context, dev *domain.Device, entry *domain.HistoryEntry) error

	// DeleteDevice removes a device and its history
	DeleteDevice(ctx context.Context, id int64) error

	// Close releases resources
	Close() error
}
