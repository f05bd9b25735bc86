package canonical

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rackwise/rackwise-core/internal/decode"
)

// Change actions. Attached/detached/changed/alarm_changed apply to RFID
// tags; updated to threshold-crossing sensor readings; set/changed to
// door, color and inventory fields; initialized to the first observation
// of a key.
const (
	ActionAttached     = "attached"
	ActionDetached     = "detached"
	ActionChanged      = "changed"
	ActionAlarmChanged = "alarm_changed"
	ActionSet          = "set"
	ActionUpdated      = "updated"
	ActionInitialized  = "initialized"
)

// RFID tag states carried in the payload.
const (
	TagAttached = "attached"
	TagDetached = "detached"
)

// Payload is the kind-specific body of a canonical record. Dispatch is
// on the record's MessageKind.
type Payload interface {
	payloadKind() decode.MessageKind
}

// RfidTag is one slot observation in an RFID payload.
type RfidTag struct {
	Position int    `json:"position"`
	Rfid     string `json:"rfid"`
	Alarm    int    `json:"alarm"`
	State    string `json:"state,omitempty"`
	Action   string `json:"action,omitempty"`
}

// RfidPayload carries the tag inventory of one rack module.
type RfidPayload struct {
	UCount    int       `json:"uCount"`
	RfidCount int       `json:"rfidCount"`
	RfidData  []RfidTag `json:"rfidData"`
}

func (RfidPayload) payloadKind() decode.MessageKind { return decode.KindRfid }

// TempHumReading is one sensor position's temperature and humidity.
type TempHumReading struct {
	Position    int     `json:"position"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// TempHumPayload carries the readings of one module's climate sensors.
type TempHumPayload struct {
	SensorCount int              `json:"sensorCount"`
	Sensors     []TempHumReading `json:"sensors"`
}

func (TempHumPayload) payloadKind() decode.MessageKind { return decode.KindTempHum }

// NoiseReading is one sensor position's noise level.
type NoiseReading struct {
	Position int     `json:"position"`
	Level    float64 `json:"level"`
}

// NoisePayload carries the readings of one module's noise sensors.
type NoisePayload struct {
	SensorCount int            `json:"sensorCount"`
	Sensors     []NoiseReading `json:"sensors"`
}

func (NoisePayload) payloadKind() decode.MessageKind { return decode.KindNoise }

// DoorPayload carries a cabinet door status: "open", "closed", or the
// raw "0x<HH>" form for codes without a canonical name.
type DoorPayload struct {
	Status string `json:"status"`
}

func (DoorPayload) payloadKind() decode.MessageKind { return decode.KindDoor }

// ColorEntry is one slot's indicator color.
type ColorEntry struct {
	Position int    `json:"position"`
	Color    string `json:"color"`
	Code     int    `json:"code"`
}

// ColorPayload carries slot indicator colors.
type ColorPayload struct {
	Colors []ColorEntry `json:"colors"`
}

func (ColorPayload) payloadKind() decode.MessageKind { return decode.KindColor }

// GenericPayload carries field maps for kinds without a dedicated shape
// (heartbeats, device/module inventory, command acks, pass-through).
type GenericPayload struct {
	Fields  map[string]any   `json:"fields,omitempty"`
	Entries []map[string]any `json:"entries,omitempty"`
}

func (GenericPayload) payloadKind() decode.MessageKind { return decode.KindUnknown }

// ChangeEvent describes one observed transition on a state key.
type ChangeEvent struct {
	Position  int       `json:"position,omitempty"`
	Action    string    `json:"action"`
	Previous  any       `json:"previous,omitempty"`
	Current   any       `json:"current,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Meta carries record provenance and quality metadata.
type Meta struct {
	RawTopic       string  `json:"rawTopic"`
	RawFrame       string  `json:"rawFrame,omitempty"`
	MsgID          string  `json:"msgId,omitempty"`
	QualityScore   float64 `json:"qualityScore"`
	DecoderVersion string  `json:"decoderVersion,omitempty"`
	ParserVersion  string  `json:"parserVersion,omitempty"`
	HasChanges     bool    `json:"hasChanges"`
}

// Record is the uniform shape every sink consumes. Immutable once
// emitted by the pipeline.
type Record struct {
	DeviceID      string             `json:"deviceId"`
	DeviceKind    decode.DeviceKind  `json:"deviceKind"`
	MessageKind   decode.MessageKind `json:"messageKind"`
	ModuleNumber  *int               `json:"moduleNumber,omitempty"`
	ModuleID      string             `json:"moduleId,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Payload       Payload            `json:"payload"`
	Meta          Meta               `json:"meta"`
	Changes       []ChangeEvent      `json:"changes,omitempty"`
	PreviousState Payload            `json:"previousState,omitempty"`
}

// Key identifies the record's state cell.
func (r *Record) Key() string {
	mod := -1
	if r.ModuleNumber != nil {
		mod = *r.ModuleNumber
	}
	return fmt.Sprintf("%s/%d/%s", r.DeviceID, mod, r.MessageKind)
}

// Clean returns the reduced map relayed to downstream consumers:
// canonical fields only, no change annotations.
func (r *Record) Clean() map[string]any {
	clean := map[string]any{
		"deviceId":    r.DeviceID,
		"deviceKind":  r.DeviceKind,
		"messageKind": r.MessageKind,
		"timestamp":   r.Timestamp,
		"payload":     r.Payload,
		"meta":        r.Meta,
	}
	if r.ModuleNumber != nil {
		clean["moduleNumber"] = *r.ModuleNumber
	}
	if r.ModuleID != "" {
		clean["moduleId"] = r.ModuleID
	}
	return clean
}

// recordAlias avoids recursion in UnmarshalJSON.
type recordAlias struct {
	DeviceID      string             `json:"deviceId"`
	DeviceKind    decode.DeviceKind  `json:"deviceKind"`
	MessageKind   decode.MessageKind `json:"messageKind"`
	ModuleNumber  *int               `json:"moduleNumber,omitempty"`
	ModuleID      string             `json:"moduleId,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Payload       json.RawMessage    `json:"payload"`
	Meta          Meta               `json:"meta"`
	Changes       []ChangeEvent      `json:"changes,omitempty"`
	PreviousState json.RawMessage    `json:"previousState,omitempty"`
}

// UnmarshalJSON decodes a record, dispatching the payload shape on
// messageKind.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	r.DeviceID = alias.DeviceID
	r.DeviceKind = alias.DeviceKind
	r.MessageKind = alias.MessageKind
	r.ModuleNumber = alias.ModuleNumber
	r.ModuleID = alias.ModuleID
	r.Timestamp = alias.Timestamp
	r.Meta = alias.Meta
	r.Changes = alias.Changes

	var err error
	if len(alias.Payload) > 0 {
		r.Payload, err = unmarshalPayload(alias.MessageKind, alias.Payload)
		if err != nil {
			return err
		}
	}
	if len(alias.PreviousState) > 0 {
		r.PreviousState, err = unmarshalPayload(alias.MessageKind, alias.PreviousState)
		if err != nil {
			return err
		}
	}
	return nil
}

func unmarshalPayload(kind decode.MessageKind, data []byte) (Payload, error) {
	switch kind {
	case decode.KindRfid:
		var p RfidPayload
		return p, json.Unmarshal(data, &p)
	case decode.KindTempHum:
		var p TempHumPayload
		return p, json.Unmarshal(data, &p)
	case decode.KindNoise:
		var p NoisePayload
		return p, json.Unmarshal(data, &p)
	case decode.KindDoor:
		var p DoorPayload
		return p, json.Unmarshal(data, &p)
	case decode.KindColor, decode.KindColorQueryAck:
		var p ColorPayload
		return p, json.Unmarshal(data, &p)
	default:
		var p GenericPayload
		return p, json.Unmarshal(data, &p)
	}
}
