// Package domain defines the core types of the netinventory device registry.
//
// # Core Types
//
// DiscoveredRecord is the ephemeral result of probing one host. The discovery
// engine produces it and the registry consumes it; it is validated at that
// boundary and never persisted directly.
//
// Device is the canonical, persistent view of one host on one site. Its natural
// key is the (address, site) pair and the registry guarantees at most one
// Device per key.
//
// HistoryEntry is an append-only, timestamped note attached to a Device:
// creation, status transitions and operator edits.
//
// # Classification
//
// Classify maps open ports and a resolved hostname to a DeviceGroup using an
// ordered list of heuristics. It is pure and total.
//
// # Design Principles
//
// - No database or network dependencies
// - Sentinel errors that callers match with errors.Is
// - Value types that are cheap to copy
package domain
