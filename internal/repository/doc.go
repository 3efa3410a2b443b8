// Package repository defines the persistence interface for the device
// registry.
//
// Two implementations exist: sqlite, backed by modernc.org/sqlite with WAL
// mode and a UNIQUE(address, site) constraint, and memory, a map-backed store
// used by tests and by `registry.store: memory`.
//
// # Transactions
//
// CreateDevice and UpdateDevice write the device row and its optional history
// entry atomically. A reader never observes a device without the history entry
// that explains its current status.
//
// # Ordering
//
// ListDevices returns devices most recently seen first. History is returned in
// insertion order, which is chronological because entries are append-only.
package repository
