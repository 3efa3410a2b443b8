package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"netinventory/internal/codec"
	"netinventory/internal/discovery"
	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

// DefaultListLimit is the page size of GET /api/devices without ?limit
const DefaultListLimit = 50

const maxBodyBytes = 1 << 20

// Registry is the device registry as seen by the HTTP layer
type Registry interface {
	Upsert(ctx context.Context, rec domain.DiscoveredRecord) (*domain.Device, error)
	AddManual(ctx context.Context, rec domain.DiscoveredRecord) (*domain.Device, error)
	ListDevices(ctx context.Context, filter domain.DeviceFilter) ([]*domain.Device, error)
	GetDeviceByID(ctx context.Context, id int64) (*domain.Device, error)
	GetHistoryByID(ctx context.Context, id int64) ([]domain.HistoryEntry, error)
	Annotate(ctx context.Context, id int64, edit domain.DeviceEdit) (*domain.Device, error)
	Delete(ctx context.Context, id int64) error
}

// ScanTrigger starts discovery sweeps from the API
type ScanTrigger interface {
	Trigger(ctx context.Context) error
	Running() bool
	LastReports() []*discovery.Report
}

// DeviceHandler handles device API requests
type DeviceHandler struct {
	registry    Registry
	scans       ScanTrigger
	baseCtx     context.Context
	defaultSite string
	log         logger.Logger
	now         func() time.Time
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(registry Registry, log logger.Logger) *DeviceHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &DeviceHandler{
		registry: registry,
		baseCtx:  context.Background(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetScanTrigger enables POST /api/scans. Sweeps started from the API run
// under ctx rather than the request context.
func (h *DeviceHandler) SetScanTrigger(ctx context.Context, s ScanTrigger) {
	h.baseCtx = ctx
	h.scans = s
}

// SetDefaultSite sets the site given to submitted records that carry none
func (h *DeviceHandler) SetDefaultSite(site string) {
	h.defaultSite = strings.TrimSpace(site)
}

func (h *DeviceHandler) applySite(rec *domain.DiscoveredRecord) {
	if strings.TrimSpace(rec.Site) == "" {
		rec.Site = h.defaultSite
	}
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// UpsertDevice reconciles one discovered record
func (h *DeviceHandler) UpsertDevice(w http.ResponseWriter, r *http.Request) {
	var rec domain.DiscoveredRecord
	if !h.decode(w, r, &rec) {
		return
	}
	h.applySite(&rec)
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = h.now()
	}
	if rec.DeviceGroup == "" {
		rec.DeviceGroup = domain.Classify(rec.OpenPorts, rec.Hostname)
	}

	dev, err := h.registry.Upsert(r.Context(), rec)
	if err != nil {
		h.writeServiceError(w, "Failed to upsert device", err)
		return
	}
	h.writeJSON(w, dev, http.StatusOK)
}

// CreateDevice adds a device by hand
func (h *DeviceHandler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var rec domain.DiscoveredRecord
	if !h.decode(w, r, &rec) {
		return
	}

	h.applySite(&rec)
	dev, err := h.registry.AddManual(r.Context(), rec)
	if err != nil {
		h.writeServiceError(w, "Failed to create device", err)
		return
	}
	h.writeJSON(w, dev, http.StatusCreated)
}

// ListDevices returns devices, newest sighting first
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, "Invalid query", err.Error(), http.StatusBadRequest)
		return
	}

	devices, err := h.registry.ListDevices(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "Failed to list devices", err)
		return
	}
	h.writeJSON(w, devices, http.StatusOK)
}

// GetDevice returns a single device
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}

	dev, err := h.registry.GetDeviceByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get device", err)
		return
	}
	h.writeJSON(w, dev, http.StatusOK)
}

// UpdateDevice applies an operator edit
func (h *DeviceHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}
	var edit domain.DeviceEdit
	if !h.decode(w, r, &edit) {
		return
	}
	if edit.Empty() {
		h.writeError(w, "Invalid request body", "one of hostname, device_group or notes is required", http.StatusBadRequest)
		return
	}

	dev, err := h.registry.Annotate(r.Context(), id, edit)
	if err != nil {
		h.writeServiceError(w, "Failed to update device", err)
		return
	}
	h.writeJSON(w, dev, http.StatusOK)
}

// DeleteDevice removes a device and its history
func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}

	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, "Failed to delete device", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory returns a device's history, oldest first
func (h *DeviceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}

	history, err := h.registry.GetHistoryByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get history", err)
		return
	}
	h.writeJSON(w, history, http.StatusOK)
}

// Export renders the inventory as json, yaml or an Ansible inventory
func (h *DeviceHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	exporter, err := codec.ExporterFor(format)
	if err != nil {
		h.writeError(w, "Invalid format", err.Error(), http.StatusBadRequest)
		return
	}

	devices, err := h.registry.ListDevices(r.Context(), domain.DeviceFilter{Site: r.URL.Query().Get("site")})
	if err != nil {
		h.writeServiceError(w, "Failed to export devices", err)
		return
	}

	var buf bytes.Buffer
	if err := exporter.Export(devices, &buf); err != nil {
		h.writeServiceError(w, "Failed to export devices", err)
		return
	}

	contentType, filename := "application/json", "devices.json"
	if exporter.Format() != "json" {
		contentType = "application/x-yaml"
		filename = "devices.yml"
		if exporter.Format() == "ansible-inventory" {
			filename = "inventory.yml"
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	_, _ = w.Write(buf.Bytes())
}

type scanStatus struct {
	Running bool                `json:"running"`
	Last    []*discovery.Report `json:"last,omitempty"`
}

// TriggerScan starts a sweep of all configured targets in the background
func (h *DeviceHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		h.writeError(w, "Discovery not configured", "this instance has no scan targets", http.StatusServiceUnavailable)
		return
	}

	if err := h.scans.Trigger(h.baseCtx); err != nil {
		if errors.Is(err, discovery.ErrRunInProgress) {
			h.writeError(w, "Scan already running", err.Error(), http.StatusConflict)
			return
		}
		h.writeError(w, "Failed to start scan", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]string{"status": "scan_started"}, http.StatusAccepted)
}

// ScanStatus reports whether a sweep is running and the last results
func (h *DeviceHandler) ScanStatus(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		h.writeError(w, "Discovery not configured", "this instance has no scan targets", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, scanStatus{Running: h.scans.Running(), Last: h.scans.LastReports()}, http.StatusOK)
}

// Helper methods

func parseFilter(r *http.Request) (domain.DeviceFilter, error) {
	q := r.URL.Query()
	filter := domain.DeviceFilter{Site: strings.TrimSpace(q.Get("site")), Limit: DefaultListLimit}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
		}
		filter.Limit = n
	}
	return filter, nil
}

func (h *DeviceHandler) deviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, "Invalid device ID", fmt.Sprintf("%q is not a device id", raw), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *DeviceHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps registry errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *DeviceHandler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, logger.Error(err))
	}
	h.writeError(w, msg, err.Error(), status)
}

func (h *DeviceHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn("failed to encode JSON", logger.Error(err))
	}
}

func (h *DeviceHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		h.log.Warn("failed to encode error response", logger.Error(err))
	}
}
