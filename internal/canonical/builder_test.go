package canonical

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/rackwise/rackwise-core/internal/decode"
)

func testFrame() decode.RawFrame {
	return decode.RawFrame{
		Topic:      "FamilyB/2437871205/LabelState",
		Payload:    []byte("BB028C09099500120211223344"),
		ReceivedAt: time.Now(),
	}
}

func TestBuildCompleteRecord(t *testing.T) {
	b := NewBuilder("1.0", "1.0")

	rec := Record{
		DeviceID:     "2437871205",
		DeviceKind:   decode.DeviceKindB,
		MessageKind:  decode.KindRfid,
		ModuleNumber: intp(2),
		Timestamp:    time.Now(),
		Payload: RfidPayload{
			UCount:    18,
			RfidCount: 1,
			RfidData:  []RfidTag{{Position: 4, Rfid: "DD395064", State: TagAttached}},
		},
		Meta: Meta{MsgID: "4C01EC3F"},
	}
	b.Build(&rec, testFrame())

	if rec.Meta.RawTopic != "FamilyB/2437871205/LabelState" {
		t.Errorf("RawTopic = %q", rec.Meta.RawTopic)
	}
	if rec.Meta.MsgID != "4C01EC3F" {
		t.Errorf("MsgID = %q, existing id must be kept", rec.Meta.MsgID)
	}
	if rec.Meta.DecoderVersion != "1.0" || rec.Meta.ParserVersion != "1.0" {
		t.Errorf("versions = %q / %q", rec.Meta.DecoderVersion, rec.Meta.ParserVersion)
	}
	if rec.Meta.HasChanges {
		t.Error("HasChanges = true for record without changes")
	}
	if rec.Meta.QualityScore != 100 {
		t.Errorf("QualityScore = %v, want 100", rec.Meta.QualityScore)
	}
}

func TestBuildAssignsDefaults(t *testing.T) {
	b := NewBuilder("1.0", "1.0")

	rec := Record{
		DeviceID:    "GW1",
		DeviceKind:  decode.DeviceKindB,
		MessageKind: decode.KindDoor,
		Payload:     DoorPayload{Status: "open"},
	}
	b.Build(&rec, testFrame())

	if rec.Meta.MsgID == "" {
		t.Error("missing msgId must be generated")
	}
	if rec.Timestamp.IsZero() {
		t.Error("missing timestamp must be defaulted")
	}
}

func TestBuildHasChanges(t *testing.T) {
	b := NewBuilder("1.0", "1.0")

	rec := Record{
		DeviceID:    "GW1",
		DeviceKind:  decode.DeviceKindB,
		MessageKind: decode.KindDoor,
		Timestamp:   time.Now(),
		Payload:     DoorPayload{Status: "open"},
		Changes: []ChangeEvent{
			{Action: ActionChanged, Previous: "closed", Current: "open", Timestamp: time.Now()},
		},
	}
	b.Build(&rec, testFrame())

	if !rec.Meta.HasChanges {
		t.Error("HasChanges = false for record with changes")
	}
}

func TestQualityScoreDegrades(t *testing.T) {
	b := NewBuilder("1.0", "1.0")

	t.Run("stale timestamp", func(t *testing.T) {
		rec := Record{
			DeviceID:    "GW1",
			DeviceKind:  decode.DeviceKindB,
			MessageKind: decode.KindDoor,
			Timestamp:   time.Now().Add(-48 * time.Hour),
			Payload:     DoorPayload{Status: "open"},
		}
		b.Build(&rec, testFrame())
		if rec.Meta.QualityScore != 87.5 {
			t.Errorf("QualityScore = %v, want 87.5", rec.Meta.QualityScore)
		}
	})

	t.Run("inconsistent rfid count", func(t *testing.T) {
		rec := Record{
			DeviceID:    "GW1",
			DeviceKind:  decode.DeviceKindB,
			MessageKind: decode.KindRfid,
			Timestamp:   time.Now(),
			Payload:     RfidPayload{RfidCount: 3, RfidData: []RfidTag{}},
		}
		b.Build(&rec, testFrame())
		if rec.Meta.QualityScore != 87.5 {
			t.Errorf("QualityScore = %v, want 87.5", rec.Meta.QualityScore)
		}
	})

	t.Run("missing payload", func(t *testing.T) {
		rec := Record{
			DeviceID:    "GW1",
			DeviceKind:  decode.DeviceKindB,
			MessageKind: decode.KindDoor,
			Timestamp:   time.Now(),
		}
		b.Build(&rec, testFrame())
		// completeness 80, consistency 100, timestamp 100, payload 0
		if rec.Meta.QualityScore != 70 {
			t.Errorf("QualityScore = %v, want 70", rec.Meta.QualityScore)
		}
	})
}

func TestRecordJSONRoundTrip(t *testing.T) {
	b := NewBuilder("1.0", "1.0")

	rec := Record{
		DeviceID:     "2437871205",
		DeviceKind:   decode.DeviceKindB,
		MessageKind:  decode.KindRfid,
		ModuleNumber: intp(2),
		ModuleID:     "2349402517",
		Timestamp:    time.Now().UTC().Truncate(time.Second),
		Payload: RfidPayload{
			UCount:    18,
			RfidCount: 1,
			RfidData:  []RfidTag{{Position: 17, Rfid: "DD23B0B4", State: TagAttached, Action: ActionAttached}},
		},
	}
	b.Build(&rec, testFrame())

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var got Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if !reflect.DeepEqual(rec, got) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}
