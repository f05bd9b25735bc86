package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/decode"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
	"github.com/rackwise/rackwise-core/internal/relay"
	"github.com/rackwise/rackwise-core/internal/sink"
	"github.com/rackwise/rackwise-core/internal/state"
)

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakePublisher) IsConnected() bool { return true }

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeBroadcaster) Broadcast(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, payload)
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newRegistry() *decode.Registry {
	r := decode.NewRegistry()
	r.Register("FamilyB/", decode.DeviceKindB, decode.NewFamilyBDecoder())
	r.Register("FamilyT/", decode.DeviceKindT, decode.NewFamilyTDecoder())
	return r
}

func newPipeline(t *testing.T, opts Options) (*Pipeline, *Bus) {
	t.Helper()
	log := logging.Default()
	bus := NewBus(log)
	p := New(log, newRegistry(), canonical.NewMapper(),
		state.NewEngine(log), canonical.NewBuilder("1.0", "1.0"), bus, opts)
	return p, bus
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func tempHumFrame(t *testing.T) []byte {
	t.Helper()
	b, err := hex.DecodeString(
		"028C0909950A1B2938350B1B2337530C1B0336270D000000000E000000000F0000000035019E28")
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPipelineProcessesFrame(t *testing.T) {
	cache := sink.NewCache(logging.Default(), 10, time.Minute)
	broadcaster := &fakeBroadcaster{}
	p, _ := newPipeline(t, Options{
		Workers:     2,
		Cache:       cache,
		Broadcaster: broadcaster,
	})

	p.Start(context.Background())
	defer p.Stop()

	if err := p.HandleFrame("FamilyB/2437871205/TemHum", tempHumFrame(t)); err != nil {
		t.Fatalf("HandleFrame() error: %v", err)
	}

	waitFor(t, func() bool { return p.Metrics().Processed == 1 })

	rec, ok := cache.Get("2437871205/2/TempHum")
	if !ok {
		t.Fatalf("cache miss, keys = %v", cache.Keys())
	}
	if rec.DeviceID != "2437871205" {
		t.Errorf("DeviceID = %q", rec.DeviceID)
	}
	if rec.Meta.QualityScore == 0 {
		t.Error("quality score not set")
	}
	if broadcaster.count() != 1 {
		t.Errorf("broadcasts = %d, want 1", broadcaster.count())
	}
}

func TestPipelineRelayFanout(t *testing.T) {
	rl, err := relay.New(logging.Default(), true,
		map[string]string{"FamilyB": "new/FamilyB/${gatewayId}"}, "new")
	if err != nil {
		t.Fatal(err)
	}
	publisher := &fakePublisher{}
	p, bus := newPipeline(t, Options{
		Workers:   1,
		Relay:     rl,
		Publisher: publisher,
	})

	var relayedMu sync.Mutex
	relayed := 0
	bus.Subscribe(EventRelayed, func(Event) {
		relayedMu.Lock()
		relayed++
		relayedMu.Unlock()
	})

	p.Start(context.Background())
	defer p.Stop()

	if err := p.HandleFrame("FamilyB/2437871205/TemHum", tempHumFrame(t)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Metrics().Relayed == 1 })

	topics := publisher.published()
	if len(topics) != 1 || topics[0] != "new/FamilyB/2437871205" {
		t.Errorf("published topics = %v", topics)
	}
	relayedMu.Lock()
	defer relayedMu.Unlock()
	if relayed != 1 {
		t.Errorf("relay events = %d, want 1", relayed)
	}
}

func TestPipelineSkipsRelayOutput(t *testing.T) {
	rl, err := relay.New(logging.Default(), true,
		map[string]string{"FamilyB": "new/FamilyB/${gatewayId}"}, "new")
	if err != nil {
		t.Fatal(err)
	}
	p, _ := newPipeline(t, Options{Workers: 1, Relay: rl})

	p.Start(context.Background())
	defer p.Stop()

	// A frame arriving on the relay's own output topic must not loop.
	if err := p.HandleFrame("new/FamilyB/2437871205/TemHum", tempHumFrame(t)); err != nil {
		t.Fatalf("HandleFrame() error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := p.Metrics().Processed; got != 0 {
		t.Errorf("Processed = %d, want 0", got)
	}
}

func TestPipelineDecodeErrorCounted(t *testing.T) {
	p, bus := newPipeline(t, Options{Workers: 1})

	var errMu sync.Mutex
	var busErr error
	bus.Subscribe(EventError, func(e Event) {
		errMu.Lock()
		busErr, _ = e.Payload.(error)
		errMu.Unlock()
	})

	p.Start(context.Background())
	defer p.Stop()

	// rfidCount claims two tags but only one is present
	frame, _ := hex.DecodeString("BB028C0909950012020400DD395064")
	if err := p.HandleFrame("FamilyB/GW1/LabelState", frame); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return p.Metrics().Drops["decode_error"] == 1 })

	errMu.Lock()
	defer errMu.Unlock()
	if !errors.Is(busErr, decode.ErrFrameTruncated) {
		t.Errorf("bus error = %v, want ErrFrameTruncated", busErr)
	}
}

func TestPipelineRejectsWhenNotRunning(t *testing.T) {
	p, _ := newPipeline(t, Options{Workers: 1})

	if err := p.HandleFrame("FamilyB/GW1/TemHum", nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("before Start: err = %v, want ErrNotRunning", err)
	}

	p.Start(context.Background())
	p.Stop()

	if err := p.HandleFrame("FamilyB/GW1/TemHum", nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("after Stop: err = %v, want ErrNotRunning", err)
	}
	if p.Status() != StatusStopped {
		t.Errorf("Status = %q, want stopped", p.Status())
	}
}

func TestPipelineStopDrainsQueues(t *testing.T) {
	cache := sink.NewCache(logging.Default(), 100, time.Minute)
	p, _ := newPipeline(t, Options{Workers: 2, QueueSize: 32, Cache: cache})

	p.Start(context.Background())

	const frames = 10
	for i := 0; i < frames; i++ {
		if err := p.HandleFrame("FamilyB/2437871205/TemHum", tempHumFrame(t)); err != nil {
			t.Fatal(err)
		}
	}

	p.Stop()

	if got := p.Metrics().Processed; got != frames {
		t.Errorf("Processed = %d, want %d", got, frames)
	}
}

func TestShardStableForDevice(t *testing.T) {
	first := shard("2437871205", 4)
	for i := 0; i < 10; i++ {
		if got := shard("2437871205", 4); got != first {
			t.Fatalf("shard not stable: %d vs %d", got, first)
		}
	}
	if shard("", 4) < 0 || shard("", 4) > 3 {
		t.Error("shard out of range for empty device id")
	}
}
