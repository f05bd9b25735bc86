package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/decode"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

func testEngine() *Engine {
	return NewEngine(logging.Default())
}

func intp(n int) *int { return &n }

func rfidRecord(deviceKind decode.DeviceKind, tags ...canonical.RfidTag) canonical.Record {
	return canonical.Record{
		DeviceID:     "2437871205",
		DeviceKind:   deviceKind,
		MessageKind:  decode.KindRfid,
		ModuleNumber: intp(2),
		Timestamp:    time.Now(),
		Payload: canonical.RfidPayload{
			UCount:    18,
			RfidCount: len(tags),
			RfidData:  tags,
		},
	}
}

func TestRfidAttachTransition(t *testing.T) {
	e := testEngine()

	// Seed prior state: tag DD395064 at position 4.
	seed := rfidRecord(decode.DeviceKindB,
		canonical.RfidTag{Position: 4, Rfid: "DD395064", State: canonical.TagAttached})
	if err := e.Update(&seed); err != nil {
		t.Fatalf("seed Update() error: %v", err)
	}

	// Next snapshot adds DD23B0B4 at position 17.
	rec := rfidRecord(decode.DeviceKindB,
		canonical.RfidTag{Position: 4, Rfid: "DD395064", State: canonical.TagAttached},
		canonical.RfidTag{Position: 17, Rfid: "DD23B0B4", State: canonical.TagAttached})
	if err := e.Update(&rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if len(rec.Changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(rec.Changes))
	}
	ch := rec.Changes[0]
	if ch.Position != 17 || ch.Action != canonical.ActionAttached || ch.Current != "DD23B0B4" {
		t.Errorf("change = %+v", ch)
	}

	payload := rec.Payload.(canonical.RfidPayload)
	if payload.RfidCount != 1 || len(payload.RfidData) != 1 {
		t.Fatalf("filtered payload = %+v", payload)
	}
	if payload.RfidData[0].Position != 17 || payload.RfidData[0].Action != canonical.ActionAttached {
		t.Errorf("filtered tag = %+v", payload.RfidData[0])
	}
}

func TestRfidSnapshotDetach(t *testing.T) {
	e := testEngine()

	seed := rfidRecord(decode.DeviceKindB,
		canonical.RfidTag{Position: 4, Rfid: "DD395064", State: canonical.TagAttached},
		canonical.RfidTag{Position: 17, Rfid: "DD23B0B4", State: canonical.TagAttached})
	if err := e.Update(&seed); err != nil {
		t.Fatalf("seed Update() error: %v", err)
	}

	rec := rfidRecord(decode.DeviceKindB,
		canonical.RfidTag{Position: 4, Rfid: "DD395064", State: canonical.TagAttached})
	if err := e.Update(&rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if len(rec.Changes) != 1 {
		t.Fatalf("changes = %+v, want one detach", rec.Changes)
	}
	if rec.Changes[0].Position != 17 || rec.Changes[0].Action != canonical.ActionDetached {
		t.Errorf("change = %+v", rec.Changes[0])
	}
	payload := rec.Payload.(canonical.RfidPayload)
	if len(payload.RfidData) != 1 || payload.RfidData[0].State != canonical.TagDetached {
		t.Errorf("filtered payload = %+v", payload)
	}
}

func TestRfidChangedAndAlarm(t *testing.T) {
	e := testEngine()

	seed := rfidRecord(decode.DeviceKindB,
		canonical.RfidTag{Position: 4, Rfid: "DD395064", Alarm: 0, State: canonical.TagAttached},
		canonical.RfidTag{Position: 9, Rfid: "AA000001", Alarm: 0, State: canonical.TagAttached})
	if err := e.Update(&seed); err != nil {
		t.Fatalf("seed Update() error: %v", err)
	}

	rec := rfidRecord(decode.DeviceKindB,
		canonical.RfidTag{Position: 4, Rfid: "EE000000", Alarm: 0, State: canonical.TagAttached},
		canonical.RfidTag{Position: 9, Rfid: "AA000001", Alarm: 1, State: canonical.TagAttached})
	if err := e.Update(&rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if len(rec.Changes) != 2 {
		t.Fatalf("changes = %+v, want 2", rec.Changes)
	}
	// Ascending position order.
	if rec.Changes[0].Position != 4 || rec.Changes[0].Action != canonical.ActionChanged {
		t.Errorf("first change = %+v", rec.Changes[0])
	}
	if rec.Changes[1].Position != 9 || rec.Changes[1].Action != canonical.ActionAlarmChanged {
		t.Errorf("second change = %+v", rec.Changes[1])
	}
}

func TestRfidDeltaDoesNotDetachAbsent(t *testing.T) {
	e := testEngine()

	seed := rfidRecord(decode.DeviceKindT,
		canonical.RfidTag{Position: 4, Rfid: "DD395064", State: canonical.TagAttached},
		canonical.RfidTag{Position: 9, Rfid: "AA000001", State: canonical.TagAttached})
	if err := e.Update(&seed); err != nil {
		t.Fatalf("seed Update() error: %v", err)
	}

	// Family-T delta mentions only position 11; 4 and 9 must survive.
	rec := rfidRecord(decode.DeviceKindT,
		canonical.RfidTag{Position: 11, Rfid: "BB000002", State: canonical.TagAttached})
	if err := e.Update(&rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if len(rec.Changes) != 1 || rec.Changes[0].Action != canonical.ActionAttached {
		t.Fatalf("changes = %+v", rec.Changes)
	}

	// Explicit detach removes one position only.
	rec = rfidRecord(decode.DeviceKindT,
		canonical.RfidTag{Position: 9, Rfid: "AA000001", State: canonical.TagDetached})
	if err := e.Update(&rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(rec.Changes) != 1 || rec.Changes[0].Action != canonical.ActionDetached || rec.Changes[0].Position != 9 {
		t.Fatalf("changes = %+v", rec.Changes)
	}

	// A full re-send of the remaining inventory yields no changes.
	rec = rfidRecord(decode.DeviceKindT,
		canonical.RfidTag{Position: 4, Rfid: "DD395064", State: canonical.TagAttached},
		canonical.RfidTag{Position: 11, Rfid: "BB000002", State: canonical.TagAttached})
	if err := e.Update(&rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(rec.Changes) != 0 {
		t.Errorf("changes = %+v, want none", rec.Changes)
	}
}

func TestUpdateIdempotence(t *testing.T) {
	e := testEngine()

	make1 := func() canonical.Record {
		return rfidRecord(decode.DeviceKindB,
			canonical.RfidTag{Position: 4, Rfid: "DD395064", State: canonical.TagAttached})
	}

	first := make1()
	if err := e.Update(&first); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	second := make1()
	if err := e.Update(&second); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(second.Changes) != 0 {
		t.Errorf("second update changes = %+v, want none", second.Changes)
	}
	if payload := second.Payload.(canonical.RfidPayload); len(payload.RfidData) != 0 || payload.RfidCount != 0 {
		t.Errorf("second update payload = %+v, want empty rfidData", payload)
	}
}

func TestTempHumThreshold(t *testing.T) {
	e := testEngine()

	makeRec := func(temp, hum float64) canonical.Record {
		return canonical.Record{
			DeviceID:     "GW1",
			DeviceKind:   decode.DeviceKindB,
			MessageKind:  decode.KindTempHum,
			ModuleNumber: intp(2),
			Timestamp:    time.Now(),
			Payload: canonical.TempHumPayload{
				SensorCount: 1,
				Sensors:     []canonical.TempHumReading{{Position: 10, Temperature: temp, Humidity: hum}},
			},
		}
	}

	first := makeRec(27.41, 56.53)
	if err := e.Update(&first); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(first.Changes) != 1 || first.Changes[0].Action != canonical.ActionInitialized {
		t.Fatalf("first changes = %+v", first.Changes)
	}

	// Inside the 0.01 threshold: no change.
	same := makeRec(27.41, 56.53)
	if err := e.Update(&same); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(same.Changes) != 0 {
		t.Errorf("changes within threshold = %+v", same.Changes)
	}

	moved := makeRec(27.50, 56.53)
	if err := e.Update(&moved); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(moved.Changes) != 1 || moved.Changes[0].Action != canonical.ActionUpdated {
		t.Fatalf("changes = %+v", moved.Changes)
	}
	if moved.PreviousState == nil {
		t.Error("PreviousState not set")
	}
}

func TestNoiseThreshold(t *testing.T) {
	e := testEngine()

	makeRec := func(level float64) canonical.Record {
		return canonical.Record{
			DeviceID:     "GW1",
			DeviceKind:   decode.DeviceKindB,
			MessageKind:  decode.KindNoise,
			ModuleNumber: intp(3),
			Timestamp:    time.Now(),
			Payload: canonical.NoisePayload{
				SensorCount: 1,
				Sensors:     []canonical.NoiseReading{{Position: 1, Level: level}},
			},
		}
	}

	first := makeRec(42)
	if err := e.Update(&first); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	within := makeRec(42.5)
	if err := e.Update(&within); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(within.Changes) != 0 {
		t.Errorf("changes within threshold = %+v", within.Changes)
	}

	beyond := makeRec(44)
	if err := e.Update(&beyond); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(beyond.Changes) != 1 {
		t.Errorf("changes = %+v, want 1", beyond.Changes)
	}
}

func TestDoorDuration(t *testing.T) {
	e := testEngine()
	base := time.Now()

	makeRec := func(status string, ts time.Time) canonical.Record {
		return canonical.Record{
			DeviceID:     "GW1",
			DeviceKind:   decode.DeviceKindB,
			MessageKind:  decode.KindDoor,
			ModuleNumber: intp(2),
			Timestamp:    ts,
			Payload:      canonical.DoorPayload{Status: status},
		}
	}

	first := makeRec("closed", base)
	if err := e.Update(&first); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	opened := makeRec("open", base.Add(90*time.Second))
	if err := e.Update(&opened); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(opened.Changes) != 1 {
		t.Fatalf("changes = %+v", opened.Changes)
	}
	ch := opened.Changes[0]
	if ch.Action != canonical.ActionChanged || ch.Previous != "closed" || ch.Current != "open" {
		t.Errorf("change = %+v", ch)
	}
	if ch.Duration != 90 {
		t.Errorf("duration = %v, want 90", ch.Duration)
	}
}

func TestSeparateKeysAreIndependent(t *testing.T) {
	e := testEngine()

	modA := rfidRecord(decode.DeviceKindT,
		canonical.RfidTag{Position: 1, Rfid: "AA000001", State: canonical.TagAttached})
	modA.ModuleNumber = intp(2)
	modB := rfidRecord(decode.DeviceKindT,
		canonical.RfidTag{Position: 1, Rfid: "BB000002", State: canonical.TagAttached})
	modB.ModuleNumber = intp(4)

	if err := e.Update(&modA); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if err := e.Update(&modB); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if len(modA.Changes) != 1 || len(modB.Changes) != 1 {
		t.Errorf("changes = %d / %d, want 1 each", len(modA.Changes), len(modB.Changes))
	}
	if e.Size() != 2 {
		t.Errorf("Size() = %d, want 2", e.Size())
	}
}

func TestHistoryBounded(t *testing.T) {
	e := testEngine()

	var key string
	for i := 0; i < historyCap+20; i++ {
		rec := rfidRecord(decode.DeviceKindB,
			canonical.RfidTag{Position: 1, Rfid: fmt.Sprintf("AA%06X", i), State: canonical.TagAttached})
		if err := e.Update(&rec); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
		key = rec.Key()
	}

	if got := len(e.History(key)); got != historyCap {
		t.Errorf("history length = %d, want %d", got, historyCap)
	}
}

func TestClear(t *testing.T) {
	e := testEngine()

	rec := rfidRecord(decode.DeviceKindB,
		canonical.RfidTag{Position: 1, Rfid: "AA000001", State: canonical.TagAttached})
	if err := e.Update(&rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if removed := e.Clear("2437871205"); removed != 1 {
		t.Errorf("Clear() = %d, want 1", removed)
	}
	if e.Size() != 0 {
		t.Errorf("Size() = %d after clear", e.Size())
	}

	// Re-observation after clear starts from scratch: everything attaches.
	again := rfidRecord(decode.DeviceKindB,
		canonical.RfidTag{Position: 1, Rfid: "AA000001", State: canonical.TagAttached})
	if err := e.Update(&again); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(again.Changes) != 1 || again.Changes[0].Action != canonical.ActionAttached {
		t.Errorf("changes after clear = %+v", again.Changes)
	}
}

func TestConcurrentUpdatesSameKey(t *testing.T) {
	e := testEngine()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := rfidRecord(decode.DeviceKindB,
				canonical.RfidTag{Position: 1, Rfid: fmt.Sprintf("AA%06X", i), State: canonical.TagAttached})
			if err := e.Update(&rec); err != nil {
				t.Errorf("Update() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if e.Size() != 1 {
		t.Errorf("Size() = %d, want 1", e.Size())
	}
}

func TestStateErrorOnPayloadMismatch(t *testing.T) {
	e := testEngine()

	rec := canonical.Record{
		DeviceID:    "GW1",
		DeviceKind:  decode.DeviceKindB,
		MessageKind: decode.KindRfid,
		Timestamp:   time.Now(),
		Payload:     canonical.DoorPayload{Status: "open"},
	}
	if err := e.Update(&rec); err == nil {
		t.Error("expected error for mismatched payload shape")
	}
}
