package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"netinventory/internal/domain"
)

func TestKeyLocksSerializeSameKey(t *testing.T) {
	locks := NewKeyLocks()
	key := domain.DeviceKey{Address: "10.0.0.1", Site: "A"}

	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Zero(t, locks.Len())
}

func TestKeyLocksDistinctKeysDoNotContend(t *testing.T) {
	locks := NewKeyLocks()
	unlockA := locks.Lock(domain.DeviceKey{Address: "10.0.0.1", Site: "A"})
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(domain.DeviceKey{Address: "10.0.0.1", Site: "B"})
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for a different site blocked")
	}
	assert.Equal(t, 1, locks.Len())
}

func TestKeyLocksUnlockIsIdempotent(t *testing.T) {
	locks := NewKeyLocks()
	key := domain.DeviceKey{Address: "10.0.0.1", Site: "A"}
	unlock := locks.Lock(key)
	unlock()
	unlock()
	assert.Zero(t, locks.Len())

	// Still usable afterwards
	locks.Lock(key)()
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	fast := make(chan Event, 1)
	slow := make(chan Event)
	bus.Subscribe(fast)
	bus.Subscribe(slow)

	bus.PublishDiscoveryEvent("scan_started", "10.0.0.0/24")
	ev := <-fast
	assert.Equal(t, EventType("scan_started"), ev.Type)
	assert.Equal(t, "10.0.0.0/24", ev.Payload)

	bus.Unsubscribe(fast)
	bus.Publish(Event{Type: EventDeviceUpdated})
	assert.Empty(t, fast)

	var nilBus *EventBus
	assert.NotPanics(t, func() { nilBus.Publish(Event{Type: EventDeviceUpdated}) })
}
