// Package service implements the device registry.
//
// Registry is the single authority for device state. It validates incoming
// discovered records, serializes writes per (address, site) key through
// KeyLocks, writes history entries in the same store transaction as the
// device change, and publishes events on an EventBus for SSE clients.
//
// # Absence
//
// ReconcileAbsent is called after a discovery run with the set of addresses
// that run saw. Devices in the scanned range that were not seen accumulate
// misses and are marked Down once the configured threshold is reached. A
// later sighting resets the counter.
package service
