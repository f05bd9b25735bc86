package decode

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Registry routes raw frames to the decoder registered for their topic
// prefix (the leading "FAMILY/" token).
//
// When the device family is known but the frame cannot be classified,
// the registry falls back to a basic pass-through record so the frame
// is still observable downstream. When the device ID cannot be
// extracted from the topic, no record is produced.
//
// Thread Safety: registration is expected at startup; Decode may be
// called concurrently with itself.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]registration
}

type registration struct {
	prefix  string
	kind    DeviceKind
	decoder Decoder
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[string]registration),
	}
}

// Register binds a decoder to a topic prefix (e.g. "FamilyB/").
// The kind tags pass-through records produced by the fallback path.
func (r *Registry) Register(prefix string, kind DeviceKind, decoder Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[prefix] = registration{prefix: prefix, kind: kind, decoder: decoder}
}

// Decode routes the frame to the registered decoder.
//
// Returns:
//   - []Record: One or more intermediate records
//   - error: ErrInvalidTopic when no device ID can be extracted,
//     ErrNoDecoder when no prefix matches, or the decoder's error for
//     structural failures (truncation, malformed payload)
func (r *Registry) Decode(frame RawFrame) ([]Record, error) {
	deviceID := DeviceIDFromTopic(frame.Topic)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: no device id in %q", ErrInvalidTopic, frame.Topic)
	}

	reg, ok := r.lookup(frame.Topic)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoDecoder, frame.Topic)
	}

	records, err := reg.decoder.Decode(frame)
	if err != nil {
		// Family is known but the frame defies classification: emit a
		// basic pass-through record instead of dropping silently.
		if errors.Is(err, ErrUnknownMessageKind) {
			return []Record{basicRecord(frame, deviceID, reg.kind)}, nil
		}
		return nil, err
	}

	return records, nil
}

// lookup finds the longest registered prefix matching the topic.
func (r *Registry) lookup(topic string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best registration
	found := false
	for prefix, reg := range r.decoders {
		if strings.HasPrefix(topic, prefix) && (!found || len(prefix) > len(best.prefix)) {
			best = reg
			found = true
		}
	}
	return best, found
}

// basicRecord builds the fallback pass-through record for unclassifiable
// frames from a known family.
func basicRecord(frame RawFrame, deviceID string, kind DeviceKind) Record {
	return Record{
		DeviceID:    deviceID,
		DeviceKind:  kind,
		MessageKind: KindUnknown,
		RawFields: map[string]any{
			"raw": string(frame.Payload),
		},
		Timestamp: frame.ReceivedAt,
	}
}
