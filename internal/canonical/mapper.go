package canonical

import (
	"fmt"

	"github.com/rackwise/rackwise-core/internal/decode"
)

// subFieldRenames holds the declarative per-(deviceKind, messageKind)
// rename tables applied to sub-record fields before projection. Family-B
// frames already decode to canonical names; family-T payloads carry
// vendor field names.
var subFieldRenames = map[decode.DeviceKind]map[decode.MessageKind]map[string]string{
	decode.DeviceKindT: {
		decode.KindRfid: {
			"num":      "position",
			"u_num":    "position",
			"tag_code": "rfid",
		},
		decode.KindTempHum: {
			"num":           "position",
			"temper_swot":   "temperature",
			"humidity_swot": "humidity",
		},
		decode.KindNoise: {
			"num":        "position",
			"noise_swot": "level",
		},
		decode.KindColor: {
			"num":     "position",
			"u_color": "code",
		},
	},
}

// topFieldRenames is the rename table for top-level raw fields.
var topFieldRenames = map[decode.DeviceKind]map[decode.MessageKind]map[string]string{
	decode.DeviceKindT: {
		decode.KindRfid: {
			"u_quantity":   "u_count",
			"tag_quantity": "rfid_count",
		},
		decode.KindDoor: {
			"door_state": "status",
		},
	},
}

// doorStatusNames translates known door status codes to canonical names.
// Unknown codes keep their raw form.
var doorStatusNames = map[string]string{
	"0x00":  "closed",
	"0x01":  "open",
	"close": "closed",
	"open":  "open",
}

// Mapper projects intermediate decoder records into canonical records
// with uniform field names and kind-specific payload shapes. Mapping is
// a pure function; the input record is not modified.
type Mapper struct{}

// NewMapper creates a field mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Map converts one intermediate record to a canonical record.
//
// Returns:
//   - Record: canonical record with the kind-specific payload populated
//   - error: ErrMissingDeviceID when the record carries no device identity
func (m *Mapper) Map(in decode.Record) (Record, error) {
	if in.DeviceID == "" {
		return Record{}, ErrMissingDeviceID
	}

	fields := renameFields(in.RawFields, topFieldRenames[in.DeviceKind][in.MessageKind])
	subs := make([]map[string]any, 0, len(in.SubRecords))
	subRenames := subFieldRenames[in.DeviceKind][in.MessageKind]
	for _, sub := range in.SubRecords {
		subs = append(subs, renameFields(sub, subRenames))
	}

	rec := Record{
		DeviceID:     in.DeviceID,
		DeviceKind:   in.DeviceKind,
		MessageKind:  in.MessageKind,
		ModuleNumber: in.ModuleNumber,
		ModuleID:     in.ModuleID,
		Timestamp:    in.Timestamp,
		Meta: Meta{
			MsgID: in.MsgID,
		},
	}

	switch in.MessageKind {
	case decode.KindRfid:
		rec.Payload = mapRfid(fields, subs)
	case decode.KindTempHum:
		rec.Payload = mapTempHum(subs)
	case decode.KindNoise:
		rec.Payload = mapNoise(subs)
	case decode.KindDoor:
		rec.Payload = mapDoor(fields)
	case decode.KindColor, decode.KindColorQueryAck:
		rec.Payload = mapColor(subs)
	default:
		rec.Payload = GenericPayload{Fields: fields, Entries: subs}
	}

	return rec, nil
}

func mapRfid(fields map[string]any, subs []map[string]any) RfidPayload {
	tags := make([]RfidTag, 0, len(subs))
	for _, sub := range subs {
		tag := RfidTag{
			Position: anyToInt(sub["position"]),
			Rfid:     anyToString(sub["rfid"]),
			Alarm:    anyToInt(sub["alarm"]),
			State:    TagAttached,
		}
		// Family-T change notifications carry an explicit action code:
		// 1 = attached, 0 = detached.
		if action, ok := sub["action"]; ok && anyToInt(action) == 0 {
			tag.State = TagDetached
		}
		if state, ok := sub["state"]; ok {
			if s := anyToString(state); s != "" {
				tag.State = s
			}
		}
		tags = append(tags, tag)
	}

	return RfidPayload{
		UCount:    anyToInt(fields["u_count"]),
		RfidCount: len(tags),
		RfidData:  tags,
	}
}

func mapTempHum(subs []map[string]any) TempHumPayload {
	readings := make([]TempHumReading, 0, len(subs))
	for _, sub := range subs {
		readings = append(readings, TempHumReading{
			Position:    anyToInt(sub["position"]),
			Temperature: anyToFloat(sub["temperature"]),
			Humidity:    anyToFloat(sub["humidity"]),
		})
	}
	return TempHumPayload{SensorCount: len(readings), Sensors: readings}
}

func mapNoise(subs []map[string]any) NoisePayload {
	readings := make([]NoiseReading, 0, len(subs))
	for _, sub := range subs {
		readings = append(readings, NoiseReading{
			Position: anyToInt(sub["position"]),
			Level:    anyToFloat(sub["level"]),
		})
	}
	return NoisePayload{SensorCount: len(readings), Sensors: readings}
}

func mapDoor(fields map[string]any) DoorPayload {
	status := anyToString(fields["status"])
	if name, ok := doorStatusNames[status]; ok {
		status = name
	}
	return DoorPayload{Status: status}
}

func mapColor(subs []map[string]any) ColorPayload {
	colors := make([]ColorEntry, 0, len(subs))
	for _, sub := range subs {
		entry := ColorEntry{
			Position: anyToInt(sub["position"]),
			Code:     anyToInt(sub["code"]),
			Color:    anyToString(sub["color"]),
		}
		if entry.Color == "" {
			entry.Color = decode.ColorName(entry.Code)
		}
		colors = append(colors, entry)
	}
	return ColorPayload{Colors: colors}
}

// renameFields returns a copy of m with keys renamed per the table.
// A nil table copies keys unchanged.
func renameFields(m map[string]any, renames map[string]string) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if canonical, ok := renames[k]; ok {
			k = canonical
		}
		out[k] = v
	}
	return out
}

func anyToInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func anyToFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func anyToString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}
