// Package handler implements the registry's HTTP API.
//
// All routes live under /api and answer JSON. Registry errors map to status
// codes: invalid records to 400, unknown devices to 404 and manual creates
// on an existing key to 409. Error bodies have an {error, details} shape.
//
// GET /api/events streams registry and discovery events as Server-Sent
// Events; it is mounted outside the per-request timeout.
package handler
