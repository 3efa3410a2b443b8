package submit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netinventory/internal/domain"
)

func sampleRecord() domain.DiscoveredRecord {
	return domain.DiscoveredRecord{
		Address:     "10.0.0.5",
		Site:        "A",
		Hostname:    "nas",
		OpenPorts:   domain.PortSet{22},
		DeviceGroup: domain.GroupServer,
		Status:      domain.StatusUp,
		ObservedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type fakeUpserter struct {
	err error
	got []domain.DiscoveredRecord
}

func (f *fakeUpserter) Upsert(_ context.Context, rec domain.DiscoveredRecord) (*domain.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = append(f.got, rec)
	return domain.NewDeviceFromRecord(rec), nil
}

// flakySubmitter fails with errs in order, then succeeds
type flakySubmitter struct {
	calls atomic.Int32
	errs  []error
}

func (f *flakySubmitter) Submit(_ context.Context, _ domain.DiscoveredRecord) error {
	n := int(f.calls.Add(1))
	if n <= len(f.errs) {
		return f.errs[n-1]
	}
	return nil
}

func TestLocal(t *testing.T) {
	up := &fakeUpserter{}
	require.NoError(t, NewLocal(up).Submit(context.Background(), sampleRecord()))
	assert.Len(t, up.got, 1)

	up.err = domain.ErrInvalidRecord
	err := NewLocal(up).Submit(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
	assert.True(t, IsPermanent(err))
}

func TestHTTPSubmit(t *testing.T) {
	var got domain.DiscoveredRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, UpsertPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL+"/", time.Second, nil)
	require.NoError(t, h.Submit(context.Background(), sampleRecord()))
	assert.Equal(t, sampleRecord().Key(), got.Key())
	assert.Equal(t, domain.PortSet{22}, got.OpenPorts)
}

func TestHTTPSubmitErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"conflict", http.StatusConflict, true},
		{"too many requests", http.StatusTooManyRequests, false},
		{"unavailable", http.StatusServiceUnavailable, false},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := NewHTTP(srv.URL, time.Second, nil).Submit(context.Background(), sampleRecord())
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Code)
			assert.Equal(t, "nope", se.Body)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestHTTPSubmitValidatesBeforeSending(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	rec := sampleRecord()
	rec.Address = "300.1.1.1"
	err := NewHTTP(srv.URL, time.Second, nil).Submit(context.Background(), rec)
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
	assert.Zero(t, hits.Load())
}

func TestHTTPSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewHTTP(srv.URL, 20*time.Millisecond, nil).Submit(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryingRecoversFromTransientErrors(t *testing.T) {
	next := &flakySubmitter{errs: []error{errors.New("reset"), &StatusError{Code: 503}}}
	r := NewRetrying(next, 3, nil)
	r.SetBackoff(time.Millisecond, 2*time.Millisecond)

	require.NoError(t, r.Submit(context.Background(), sampleRecord()))
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestRetryingGivesUp(t *testing.T) {
	next := &flakySubmitter{errs: []error{errors.New("reset"), errors.New("reset"), errors.New("reset")}}
	r := NewRetrying(next, 2, nil)
	r.SetBackoff(time.Millisecond, 2*time.Millisecond)

	err := r.Submit(context.Background(), sampleRecord())
	assert.ErrorContains(t, err, "after 2 attempt(s)")
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestRetryingStopsOnPermanentError(t *testing.T) {
	next := &flakySubmitter{errs: []error{&StatusError{Code: 400, Body: "bad"}}}
	r := NewRetrying(next, 5, nil)
	r.SetBackoff(time.Millisecond, 2*time.Millisecond)

	err := r.Submit(context.Background(), sampleRecord())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestRetryingHonoursCancellation(t *testing.T) {
	next := &flakySubmitter{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	r := NewRetrying(next, 10, nil)
	r.SetBackoff(time.Second, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Submit(ctx, sampleRecord())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestRetryingOverHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRetrying(NewHTTP(srv.URL, time.Second, nil), 3, nil)
	r.SetBackoff(time.Millisecond, 2*time.Millisecond)
	require.NoError(t, r.Submit(context.Background(), sampleRecord()))
	assert.Equal(t, int32(3), hits.Load())
}
