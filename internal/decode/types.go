package decode

import (
	"strings"
	"time"
)

// DeviceKind identifies the protocol family a gateway belongs to.
type DeviceKind string

// Known device kinds.
const (
	// DeviceKindB is the compact binary/hex framed gateway family.
	DeviceKindB DeviceKind = "B"

	// DeviceKindT is the structured text (JSON) gateway family.
	DeviceKindT DeviceKind = "T"
)

// MessageKind classifies the content of a decoded frame.
type MessageKind string

// Known message kinds.
const (
	KindRfid                MessageKind = "Rfid"
	KindTempHum             MessageKind = "TempHum"
	KindNoise               MessageKind = "Noise"
	KindDoor                MessageKind = "Door"
	KindColor               MessageKind = "Color"
	KindHeartbeat           MessageKind = "Heartbeat"
	KindDeviceInfo          MessageKind = "DeviceInfo"
	KindModuleInfo          MessageKind = "ModuleInfo"
	KindDeviceAndModuleInfo MessageKind = "DeviceAndModuleInfo"
	KindColorSetAck         MessageKind = "ColorSetAck"
	KindColorQueryAck       MessageKind = "ColorQueryAck"
	KindTamperClearAck      MessageKind = "TamperClearAck"
	KindUnknown             MessageKind = "Unknown"
)

// RawFrame is a single MQTT payload with its topic and receive time.
// The topic is the sole authority for device identity and message category.
type RawFrame struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Record is the intermediate decoder output, before canonicalization.
//
// Some family-T frames produce multiple records (one per module port)
// from a single payload, so decoders return slices.
type Record struct {
	// DeviceID is drawn from topic segment 2 and is never empty for
	// records emitted by the registry.
	DeviceID string

	// DeviceKind is the protocol family of the originating gateway.
	DeviceKind DeviceKind

	// MessageKind classifies the frame content.
	MessageKind MessageKind

	// ModuleNumber is the sub-unit address within the gateway, or nil
	// when the frame is not module-scoped.
	ModuleNumber *int

	// ModuleID is the module's hardware identifier (decimal string),
	// empty when not carried by the frame.
	ModuleID string

	// RawFields holds family-specific field names as decoded from the
	// wire. The field mapper renames these to canonical names.
	RawFields map[string]any

	// SubRecords holds per-position entries (tags, sensor readings).
	SubRecords []map[string]any

	// MsgID is the frame's message code, empty when absent.
	MsgID string

	// Timestamp is decoder-assigned when the frame carries none.
	Timestamp time.Time
}

// Decoder parses a raw frame into intermediate records.
//
// Decoders are pure functions of (topic, payload); they hold no state
// and are safe for concurrent use.
type Decoder interface {
	// Decode parses the frame. It returns ErrUnknownMessageKind when the
	// frame cannot be classified, ErrFrameTruncated when a field read
	// crosses the frame boundary, and ErrDecodeFailed for other
	// structural problems.
	Decode(frame RawFrame) ([]Record, error)
}

// TopicSegments splits an MQTT topic into its slash-separated segments.
func TopicSegments(topic string) []string {
	return strings.Split(topic, "/")
}

// DeviceIDFromTopic extracts the device ID from topic segment 2.
// Returns "" when the topic has fewer than two segments or the
// segment is empty.
func DeviceIDFromTopic(topic string) string {
	parts := TopicSegments(topic)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// CategoryFromTopic extracts the message category from topic segment 3.
// Returns "" when the topic has fewer than three segments.
func CategoryFromTopic(topic string) string {
	parts := TopicSegments(topic)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func intPtr(v int) *int {
	return &v
}
