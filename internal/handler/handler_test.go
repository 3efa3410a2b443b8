package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"netinventory/internal/discovery"
	"netinventory/internal/domain"
	"netinventory/internal/logger"
	"netinventory/internal/repository/memory"
	"netinventory/internal/service"
)

type fakeScans struct {
	mu      sync.Mutex
	running bool
	err     error
	calls   int
	ctx     context.Context
	reports []*discovery.Report
}

func (f *fakeScans) Trigger(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ctx = ctx
	return f.err
}

func (f *fakeScans) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeScans) LastReports() []*discovery.Report { return f.reports }

type testAPI struct {
	t        *testing.T
	registry *service.Registry
	devices  *DeviceHandler
	router   http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	registry := service.NewRegistry(memory.New())
	devices := NewDeviceHandler(registry, nil)
	return &testAPI{
		t:        t,
		registry: registry,
		devices:  devices,
		router:   NewRouter(RouterOptions{Devices: devices, Version: "test"}),
	}
}

func (a *testAPI) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func upsertBody(addr, site string, ports ...int) map[string]interface{} {
	return map[string]interface{}{
		"address":      addr,
		"site":         site,
		"hostname":     "",
		"open_ports":   ports,
		"device_group": "",
		"status":       "Up",
		"observed_at":  "2024-03-01T10:00:00Z",
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthzResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test", body.Version)
	assert.GreaterOrEqual(t, body.UptimeSeconds, 0.0)
}

func TestUpsertDevice(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/devices/upsert", upsertBody("10.0.0.5", "A", 161, 22))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dev domain.Device
	decodeBody(t, rec, &dev)
	assert.NotZero(t, dev.ID)
	assert.Equal(t, "10.0.0.5", dev.Address)
	assert.Equal(t, domain.GroupSwitch, dev.DeviceGroup, "group classified when omitted")
	assert.Equal(t, []int{22, 161}, dev.OpenPorts)
	assert.Equal(t, domain.StatusUp, dev.Status)

	body := upsertBody("10.0.0.5", "A")
	body["status"] = "Down"
	rec = api.do(http.MethodPost, "/api/devices/upsert", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var again domain.Device
	decodeBody(t, rec, &again)
	assert.Equal(t, dev.ID, again.ID)
	assert.Equal(t, domain.StatusDown, again.Status)

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/devices/%d/history", dev.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.HistoryEntry
	decodeBody(t, rec, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "Device discovered", history[0].Message)
	assert.Equal(t, "Status changed from Up → Down", history[1].Message)
}

func TestUpsertDeviceInvalid(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{not json"},
		{"bad address", upsertBody("10.0.0.999", "A")},
		{"missing site without default", upsertBody("10.0.0.5", "")},
		{"bad status", func() map[string]interface{} {
			b := upsertBody("10.0.0.5", "A")
			b["status"] = "Sideways"
			return b
		}()},
		{"port out of range", upsertBody("10.0.0.5", "A", 70000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(http.MethodPost, "/api/devices/upsert", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var body ErrorResponse
			decodeBody(t, rec, &body)
			assert.NotEmpty(t, body.Error)
		})
	}

	rec := api.do(http.MethodGet, "/api/devices", nil)
	assert.JSONEq(t, "[]", rec.Body.String(), "nothing stored after rejected records")
}

func TestDefaultSite(t *testing.T) {
	api := newTestAPI(t)
	api.devices.SetDefaultSite("Home")

	rec := api.do(http.MethodPost, "/api/devices/upsert", upsertBody("10.0.0.5", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dev domain.Device
	decodeBody(t, rec, &dev)
	assert.Equal(t, "Home", dev.Site)

	rec = api.do(http.MethodPost, "/api/devices", map[string]interface{}{"address": "10.0.0.6", "site": " "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decodeBody(t, rec, &dev)
	assert.Equal(t, "Home", dev.Site)

	rec = api.do(http.MethodPost, "/api/devices/upsert", upsertBody("10.0.0.5", "Branch"))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &dev)
	assert.Equal(t, "Branch", dev.Site, "explicit site wins")
}

func TestCreateDevice(t *testing.T) {
	api := newTestAPI(t)

	body := map[string]interface{}{"address": "10.0.0.9", "site": "A", "hostname": "printer"}
	rec := api.do(http.MethodPost, "/api/devices", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var dev domain.Device
	decodeBody(t, rec, &dev)
	assert.Equal(t, domain.StatusUp, dev.Status)
	assert.Equal(t, "printer", dev.Hostname)

	rec = api.do(http.MethodPost, "/api/devices", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListDevices(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 60; i++ {
		site := "A"
		if i%2 == 0 {
			site = "B"
		}
		_, err := api.registry.Upsert(ctx, domain.DiscoveredRecord{
			Address:     fmt.Sprintf("10.0.0.%d", i),
			Site:        site,
			Status:      domain.StatusUp,
			DeviceGroup: domain.GroupUnknown,
			ObservedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		query string
		code  int
		count int
		first string
	}{
		{"default limit", "", http.StatusOK, DefaultListLimit, "10.0.0.60"},
		{"explicit limit", "?limit=5", http.StatusOK, 5, "10.0.0.60"},
		{"unlimited", "?limit=0", http.StatusOK, 60, "10.0.0.60"},
		{"site filter", "?site=A&limit=0", http.StatusOK, 30, "10.0.0.59"},
		{"unknown site", "?site=Z", http.StatusOK, 0, ""},
		{"negative limit", "?limit=-1", http.StatusBadRequest, 0, ""},
		{"non numeric limit", "?limit=ten", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(http.MethodGet, "/api/devices"+tt.query, nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var devices []domain.Device
			decodeBody(t, rec, &devices)
			require.NotNil(t, devices, "empty result encodes as []")
			assert.Len(t, devices, tt.count)
			if tt.first != "" {
				assert.Equal(t, tt.first, devices[0].Address)
			}
		})
	}
}

func TestDeviceByID(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodPost, "/api/devices/upsert", upsertBody("10.0.0.5", "A", 80))
	require.Equal(t, http.StatusOK, rec.Code)
	var dev domain.Device
	decodeBody(t, rec, &dev)
	path := fmt.Sprintf("/api/devices/%d", dev.ID)

	t.Run("get", func(t *testing.T) {
		rec := api.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got domain.Device
		decodeBody(t, rec, &got)
		assert.Equal(t, dev.ID, got.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/devices/9999", nil).Code)
		assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/api/devices/9999", nil).Code)
	})

	t.Run("history of unknown id", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/api/devices/9999/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("bad id", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/devices/abc", nil).Code)
		assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/devices/-3", nil).Code)
	})

	t.Run("patch", func(t *testing.T) {
		rec := api.do(http.MethodPatch, path, map[string]interface{}{
			"hostname": "core-sw.",
			"notes":    "rack 4",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got domain.Device
		decodeBody(t, rec, &got)
		assert.Equal(t, "core-sw", got.Hostname)
		assert.Equal(t, "rack 4", got.Notes)

		assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPatch, path, map[string]interface{}{}).Code)
		assert.Equal(t, http.StatusBadRequest,
			api.do(http.MethodPatch, path, map[string]interface{}{"device_group": "Toaster"}).Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := api.do(http.MethodDelete, path, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, path, nil).Code)
	})
}

func TestExport(t *testing.T) {
	api := newTestAPI(t)
	for _, b := range []map[string]interface{}{
		upsertBody("10.0.0.5", "A", 22, 161),
		upsertBody("10.0.1.7", "B", 80),
	} {
		require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/devices/upsert", b).Code)
	}

	t.Run("json default", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/api/export", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "devices.json")
		var devices []domain.Device
		decodeBody(t, rec, &devices)
		assert.Len(t, devices, 2)
	})

	t.Run("yaml by site", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/api/export?format=yaml&site=B", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var doc struct {
			Devices []map[string]interface{} `yaml:"devices"`
		}
		require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))
		require.Len(t, doc.Devices, 1)
		assert.Equal(t, "10.0.1.7", doc.Devices[0]["address"])
	})

	t.Run("ansible", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/api/export?format=ansible", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "inventory.yml")
		assert.True(t, strings.HasPrefix(rec.Body.String(), "all:"), rec.Body.String())
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/export?format=csv", nil).Code)
	})
}

func TestScans(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		api := newTestAPI(t)
		assert.Equal(t, http.StatusServiceUnavailable, api.do(http.MethodPost, "/api/scans", nil).Code)
		assert.Equal(t, http.StatusServiceUnavailable, api.do(http.MethodGet, "/api/scans", nil).Code)
	})

	t.Run("trigger", func(t *testing.T) {
		api := newTestAPI(t)
		scans := &fakeScans{reports: []*discovery.Report{{Site: "A", CIDR: "10.0.0.0/29", HostsUp: 3}}}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		api.devices.SetScanTrigger(ctx, scans)

		rec := api.do(http.MethodPost, "/api/scans", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"status":"scan_started"}`, rec.Body.String())
		assert.Equal(t, 1, scans.calls)
		assert.Equal(t, ctx, scans.ctx, "sweep outlives the request")

		rec = api.do(http.MethodGet, "/api/scans", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var status scanStatus
		decodeBody(t, rec, &status)
		assert.False(t, status.Running)
		require.Len(t, status.Last, 1)
		assert.Equal(t, 3, status.Last[0].HostsUp)
	})

	t.Run("already running", func(t *testing.T) {
		api := newTestAPI(t)
		api.devices.SetScanTrigger(context.Background(), &fakeScans{err: discovery.ErrRunInProgress})
		assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, "/api/scans", nil).Code)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrInvalidRecord), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrConflict), http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestAccessLogKeepsFlusher(t *testing.T) {
	var flushed bool
	h := AccessLog(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("x"))
		f.Flush()
		flushed = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, flushed)
	assert.True(t, rec.Flushed)
}
