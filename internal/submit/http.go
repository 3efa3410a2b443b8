package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"netinventory/internal/domain"
)

// UpsertPath is where a remote registry accepts records
const UpsertPath = "/api/devices/upsert"

// HTTP submits records to a remote registry's API
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTP creates an HTTP submitter for the registry at endpoint, e.g.
// "http://10.0.0.2:8000". timeout bounds each request.
func NewHTTP(endpoint string, timeout time.Duration, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{
		url:     strings.TrimRight(endpoint, "/") + UpsertPath,
		client:  client,
		timeout: timeout,
	}
}

// Submit posts rec as JSON. Any 2xx answer is success.
func (h *HTTP) Submit(ctx context.Context, rec domain.DiscoveredRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}
