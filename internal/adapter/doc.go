// Package adapter implements the port scanning backends used by discovery.
//
// # Backends
//
// ConnectScanner probes each port with a plain TCP connect through a
// PortChecker. It needs no privilege and no external tools.
//
// NmapScanner delegates to the nmap binary. It is useful when operators
// want nmap's timing and retransmission behavior, and optionally service
// detection. The binary is checked once at construction.
//
// Both return the open ports as a sorted, deduplicated set. Port order in the
// request carries no meaning.
package adapter
