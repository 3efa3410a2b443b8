package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netinventory/internal/domain"
	"netinventory/internal/repository"
)

var _ repository.Store = (*Repository)(nil)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func device(addr, site string, seen time.Time) *domain.Device {
	return &domain.Device{
		Address: addr, Site: site, Status: domain.StatusUp,
		DeviceGroup: domain.GroupUnknown, OpenPorts: []int{}, LastSeen: seen,
	}
}

func TestCreateGetConflict(t *testing.T) {
	repo := New()
	ctx := context.Background()

	dev := device("10.0.0.1", "A", t0)
	entry := &domain.HistoryEntry{Timestamp: t0, Status: domain.StatusUp, Message: domain.MessageDiscovered}
	require.NoError(t, repo.CreateDevice(ctx, dev, entry))
	assert.Equal(t, int64(1), dev.ID)
	assert.Equal(t, dev.ID, entry.DeviceID)

	got, err := repo.GetDevice(ctx, dev.Key())
	require.NoError(t, err)
	assert.Equal(t, dev, got)
	body, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"open_ports":[]`)

	err = repo.CreateDevice(ctx, device("10.0.0.1", "A", t0), nil)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = repo.GetDeviceByID(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReturnedDevicesAreCopies(t *testing.T) {
	repo := New()
	ctx := context.Background()

	dev := device("10.0.0.1", "A", t0)
	dev.OpenPorts = []int{22}
	require.NoError(t, repo.CreateDevice(ctx, dev, nil))

	dev.OpenPorts[0] = 9999
	got, err := repo.GetDeviceByID(ctx, dev.ID)
	require.NoError(t, err)
	got.Hostname = "mutated"
	assert.Equal(t, []int{22}, got.OpenPorts)

	again, err := repo.GetDeviceByID(ctx, dev.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Hostname)
}

func TestUpdateKeepsIdentity(t *testing.T) {
	repo := New()
	ctx := context.Background()

	dev := device("10.0.0.1", "A", t0)
	dev.CreatedAt = t0
	require.NoError(t, repo.CreateDevice(ctx, dev, nil))

	changed := dev.Clone()
	changed.Site = "B"
	changed.CreatedAt = t0.Add(time.Hour)
	changed.Status = domain.StatusDown
	require.NoError(t, repo.UpdateDevice(ctx, changed, &domain.HistoryEntry{Timestamp: t0, Status: domain.StatusDown, Message: "x"}))

	got, err := repo.GetDeviceByID(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Site)
	assert.Equal(t, t0, got.CreatedAt)
	assert.Equal(t, domain.StatusDown, got.Status)

	history, err := repo.History(ctx, dev.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	missing := device("10.0.0.9", "A", t0)
	missing.ID = 50
	assert.ErrorIs(t, repo.UpdateDevice(ctx, missing, nil), domain.ErrNotFound)
}

func TestListOrderAndLimit(t *testing.T) {
	repo := New()
	ctx := context.Background()
	require.NoError(t, repo.CreateDevice(ctx, device("10.0.0.1", "A", t0), nil))
	require.NoError(t, repo.CreateDevice(ctx, device("10.0.0.2", "B", t0.Add(time.Minute)), nil))
	require.NoError(t, repo.CreateDevice(ctx, device("10.0.0.3", "A", t0.Add(2*time.Minute)), nil))

	all, err := repo.ListDevices(ctx, domain.DeviceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "10.0.0.3", all[0].Address)
	assert.Equal(t, "10.0.0.1", all[2].Address)

	siteA, err := repo.ListDevices(ctx, domain.DeviceFilter{Site: "A", Limit: 1})
	require.NoError(t, err)
	require.Len(t, siteA, 1)
	assert.Equal(t, "10.0.0.3", siteA[0].Address)
}

func TestDelete(t *testing.T) {
	repo := New()
	ctx := context.Background()
	dev := device("10.0.0.1", "A", t0)
	require.NoError(t, repo.CreateDevice(ctx, dev, &domain.HistoryEntry{Timestamp: t0, Status: domain.StatusUp}))

	require.NoError(t, repo.DeleteDevice(ctx, dev.ID))
	_, err := repo.GetDevice(ctx, dev.Key())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	history, err := repo.History(ctx, dev.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// The key is free again
	require.NoError(t, repo.CreateDevice(ctx, device("10.0.0.1", "A", t0), nil))
	assert.ErrorIs(t, repo.DeleteDevice(ctx, dev.ID), domain.ErrNotFound)
}
