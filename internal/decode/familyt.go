package decode

import (
	"encoding/json"
	"fmt"
	"strings"
)

// familyTKinds maps the structured-text msg_type discriminator to a
// message kind. Prefix entries (trailing "*") match any discriminator
// with that prefix.
var familyTKinds = map[string]MessageKind{
	"heart_beat_req":                 KindHeartbeat,
	"u_state_changed_notify_req":     KindRfid,
	"u_state_resp":                   KindRfid,
	"temper_humidity_*":              KindTempHum,
	"noise_*":                        KindNoise,
	"door_state_*":                   KindDoor,
	"devies_init_req":                KindDeviceAndModuleInfo,
	"u_color":                        KindColor,
	"set_module_property_result_req": KindColorSetAck,
	"clear_u_warning":                KindTamperClearAck,
}

// familyTEnvelope is the self-describing record shape of family-T frames.
// Data carries one entry per module port.
type familyTEnvelope struct {
	MsgType string           `json:"msg_type"`
	MsgID   string           `json:"msg_id"`
	Data    []map[string]any `json:"data"`
}

// FamilyTDecoder parses structured text (JSON) gateway payloads.
//
// A single frame may carry entries for several module ports; each entry
// yields one intermediate record. The device ID is always taken from
// topic segment 2, never from the payload.
//
// Decoders are stateless and safe for concurrent use.
type FamilyTDecoder struct{}

// NewFamilyTDecoder creates a family-T decoder.
func NewFamilyTDecoder() *FamilyTDecoder {
	return &FamilyTDecoder{}
}

// Decode implements Decoder.
func (d *FamilyTDecoder) Decode(frame RawFrame) ([]Record, error) {
	deviceID := DeviceIDFromTopic(frame.Topic)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, frame.Topic)
	}

	var env familyTEnvelope
	if err := json.Unmarshal(frame.Payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if env.MsgType == "" {
		return nil, fmt.Errorf("%w: missing msg_type", ErrDecodeFailed)
	}

	kind, ok := classifyFamilyT(env.MsgType)
	if !ok {
		return nil, fmt.Errorf("%w: msg_type %q", ErrUnknownMessageKind, env.MsgType)
	}

	// Frames without a data container (heartbeats, device init) still
	// produce a single record carrying the top-level fields.
	if len(env.Data) == 0 {
		var fields map[string]any
		if err := json.Unmarshal(frame.Payload, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		delete(fields, "msg_type")
		delete(fields, "msg_id")
		return []Record{{
			DeviceID:    deviceID,
			DeviceKind:  DeviceKindT,
			MessageKind: kind,
			RawFields:   fields,
			MsgID:       env.MsgID,
			Timestamp:   frame.ReceivedAt,
		}}, nil
	}

	// One record per module port entry.
	records := make([]Record, 0, len(env.Data))
	for _, entry := range env.Data {
		rec := Record{
			DeviceID:    deviceID,
			DeviceKind:  DeviceKindT,
			MessageKind: kind,
			RawFields:   make(map[string]any, len(entry)),
			MsgID:       env.MsgID,
			Timestamp:   frame.ReceivedAt,
		}

		for k, v := range entry {
			switch k {
			case "num":
				if n, ok := toInt(v); ok {
					rec.ModuleNumber = intPtr(n)
				}
			case "module_id":
				rec.ModuleID = fmt.Sprintf("%v", v)
			case "tags", "sensors":
				rec.SubRecords = toSubRecords(v)
			default:
				rec.RawFields[k] = v
			}
		}

		records = append(records, rec)
	}

	return records, nil
}

// classifyFamilyT resolves a msg_type discriminator against the fixed
// table, including prefix entries.
func classifyFamilyT(msgType string) (MessageKind, bool) {
	if kind, ok := familyTKinds[msgType]; ok {
		return kind, true
	}
	for pattern, kind := range familyTKinds {
		prefix, found := strings.CutSuffix(pattern, "*")
		if found && strings.HasPrefix(msgType, prefix) {
			return kind, true
		}
	}
	return KindUnknown, false
}

// toSubRecords converts a decoded JSON array into per-position maps.
func toSubRecords(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	subs := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			subs = append(subs, m)
		}
	}
	return subs
}

// toInt coerces JSON numbers (decoded as float64) and strings to int.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
