package service

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

// ReconcileAbsent handles devices of site that a finished scan covered but
// did not see. Each gets its miss counter bumped; an Up device whose counter
// reaches the threshold is marked Down with one history entry. Returns how
// many devices were marked Down.
func (r *Registry) ReconcileAbsent(ctx context.Context, site string, scope netip.Prefix, seen []string, at time.Time) (int, error) {
	if r.missedThreshold <= 0 {
		return 0, nil
	}

	seenSet := make(map[string]struct{}, len(seen))
	for _, addr := range seen {
		seenSet[addr] = struct{}{}
	}

	devices, err := r.store.ListDevices(ctx, domain.DeviceFilter{Site: site})
	if err != nil {
		return 0, fmt.Errorf("list site %s: %w", site, err)
	}

	marked := 0
	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		addr, err := netip.ParseAddr(dev.Address)
		if err != nil || !scope.Contains(addr) {
			continue
		}
		if _, ok := seenSet[dev.Address]; ok {
			continue
		}

		down, err := r.recordMiss(ctx, dev.Key(), at)
		if err != nil {
			r.log.Warn("failed to record missed scan",
				logger.String("address", dev.Address),
				logger.String("site", site),
				logger.Error(err))
			continue
		}
		if down {
			marked++
		}
	}

	if marked > 0 {
		r.log.Info("devices marked down after missed scans",
			logger.String("site", site),
			logger.String("scope", scope.String()),
			logger.Int("count", marked))
	}
	return marked, nil
}

// recordMiss bumps one device's miss counter under its key lock
func (r *Registry) recordMiss(ctx context.Context, key domain.DeviceKey, at time.Time) (bool, error) {
	unlock := r.locks.Lock(key)
	defer unlock()

	dev, err := r.store.GetDevice(ctx, key)
	if err != nil {
		return false, err
	}
	// Sighted after the scan finished, by another run or a manual upsert
	if dev.LastSeen.After(at) {
		return false, nil
	}

	dev.MissedScans++
	dev.UpdatedAt = r.now()

	var entry *domain.HistoryEntry
	prev := dev.Status
	if dev.Status == domain.StatusUp && dev.MissedScans >= r.missedThreshold {
		dev.Status = domain.StatusDown
		entry = &domain.HistoryEntry{
			Timestamp: at.UTC(),
			Status:    domain.StatusDown,
			Message: fmt.Sprintf("%s (missed %d consecutive scans)",
				domain.StatusChangeMessage(prev, domain.StatusDown), dev.MissedScans),
		}
	}

	if err := r.store.UpdateDevice(ctx, dev, entry); err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	r.eventBus.Publish(Event{
		Type:    EventDeviceStatusChanged,
		Payload: StatusChange{Device: dev.Clone(), From: prev, To: dev.Status},
	})
	return true, nil
}
