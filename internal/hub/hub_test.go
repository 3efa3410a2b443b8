package hub

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netinventory/internal/service"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	h := New(nil)
	h.SetKeepAlive(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, srv, cancel
}

// readUntil scans SSE lines until one has the given prefix
func readUntil(t *testing.T, sc *bufio.Scanner, prefix string) string {
	t.Helper()
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, prefix) {
			return line
		}
	}
	t.Fatalf("stream ended before a %q line: %v", prefix, sc.Err())
	return ""
}

func TestHubStreamsBusEvents(t *testing.T) {
	h, srv, _ := startHub(t)
	bus := service.NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Attach(ctx, bus)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, ": connected", readUntil(t, sc, ": connected"))
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(service.Event{Type: service.EventDeviceDiscovered, Payload: map[string]string{"address": "10.0.0.5"}})

	assert.Equal(t, "event: device_discovered", readUntil(t, sc, "event:"))
	data := readUntil(t, sc, "data:")
	assert.Contains(t, data, `"type":"device_discovered"`)
	assert.Contains(t, data, `"address":"10.0.0.5"`)
}

func TestHubKeepAlive(t *testing.T) {
	_, srv, _ := startHub(t)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, ": keepalive", readUntil(t, sc, ": keepalive"))
}

func TestHubShutdownClosesClients(t *testing.T) {
	h, srv, cancel := startHub(t)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	readUntil(t, sc, ": connected")
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-h.done
	assert.Zero(t, h.ClientCount())

	// New connections are refused once the hub is gone
	resp2, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestFormatEvent(t *testing.T) {
	msg, err := formatEvent(service.Event{Type: service.EventDeviceDeleted})
	require.NoError(t, err)
	assert.Equal(t, "event: device_deleted\ndata: {\"type\":\"device_deleted\"}\n\n", string(msg))
}
