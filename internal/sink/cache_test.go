package sink

import (
	"testing"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

func testRecord(deviceID string) canonical.Record {
	return canonical.Record{
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Payload:   canonical.DoorPayload{Status: "open"},
	}
}

func TestCacheSetGet(t *testing.T) {
	c := NewCache(logging.Default(), 10, time.Minute)

	c.Set("GW1", testRecord("GW1"))
	got, ok := c.Get("GW1")
	if !ok {
		t.Fatal("Get() miss after Set()")
	}
	if got.DeviceID != "GW1" {
		t.Errorf("DeviceID = %q", got.DeviceID)
	}

	if _, ok := c.Get("absent"); ok {
		t.Error("Get() hit for absent key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(logging.Default(), 10, time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("GW1", testRecord("GW1"))

	// Advance past the TTL.
	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := c.Get("GW1"); ok {
		t.Error("Get() hit for expired entry")
	}
	if c.Stats().Size != 0 {
		t.Errorf("expired entry not removed: %+v", c.Stats())
	}
}

func TestCacheEvictsEarliestExpiry(t *testing.T) {
	c := NewCache(logging.Default(), 2, time.Minute)

	c.SetTTL("first", testRecord("first"), time.Minute)
	c.SetTTL("second", testRecord("second"), 2*time.Minute)
	c.SetTTL("third", testRecord("third"), 3*time.Minute)

	if _, ok := c.Get("first"); ok {
		t.Error("entry with earliest expiry survived eviction")
	}
	if _, ok := c.Get("second"); !ok {
		t.Error("second entry evicted")
	}
	if _, ok := c.Get("third"); !ok {
		t.Error("newest entry evicted")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCacheSweep(t *testing.T) {
	c := NewCache(logging.Default(), 10, time.Minute)

	var expired []string
	c.OnExpired(func(key string) { expired = append(expired, key) })

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("GW1", testRecord("GW1"))
	c.Set("GW2", testRecord("GW2"))

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	c.sweep()

	if c.Stats().Size != 0 {
		t.Errorf("size after sweep = %d", c.Stats().Size)
	}
	if len(expired) != 2 {
		t.Errorf("expiry observer saw %d keys, want 2", len(expired))
	}
}

func TestCacheUpdateExistingKeyNoEviction(t *testing.T) {
	c := NewCache(logging.Default(), 2, time.Minute)

	c.Set("GW1", testRecord("GW1"))
	c.Set("GW2", testRecord("GW2"))
	c.Set("GW1", testRecord("GW1"))

	if c.Stats().Evictions != 0 {
		t.Errorf("updating an existing key evicted: %+v", c.Stats())
	}
	if len(c.Keys()) != 2 {
		t.Errorf("keys = %v", c.Keys())
	}
}
