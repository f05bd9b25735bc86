package canonical

import (
	"time"

	"github.com/google/uuid"

	"github.com/rackwise/rackwise-core/internal/decode"
)

// Quality sub-score weights; the score is the plain mean of four
// sub-scores, each 0-100.
const (
	qualitySubScores = 4

	// maxTimestampAge is the recency window for a full timestamp score.
	maxTimestampAge = 24 * time.Hour
)

// Builder finalizes canonical records: provenance metadata, msgId
// assignment, timestamp defaulting and the quality score.
type Builder struct {
	decoderVersion string
	parserVersion  string
	now            func() time.Time
}

// NewBuilder creates a record builder stamping the given component
// versions into record metadata.
func NewBuilder(decoderVersion, parserVersion string) *Builder {
	return &Builder{
		decoderVersion: decoderVersion,
		parserVersion:  parserVersion,
		now:            time.Now,
	}
}

// Build completes the record in place from its originating frame.
//
// Records lacking a msgId receive a generated UUID; records lacking a
// timestamp receive the build time. HasChanges reflects the state
// engine's annotations.
func (b *Builder) Build(rec *Record, frame decode.RawFrame) {
	rec.Meta.RawTopic = frame.Topic
	rec.Meta.RawFrame = string(frame.Payload)
	rec.Meta.DecoderVersion = b.decoderVersion
	rec.Meta.ParserVersion = b.parserVersion

	if rec.Meta.MsgID == "" {
		rec.Meta.MsgID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = b.now()
	}
	rec.Meta.HasChanges = len(rec.Changes) > 0
	rec.Meta.QualityScore = b.qualityScore(rec)
}

// qualityScore computes the mean of the four sub-scores: completeness,
// consistency, timestamp and payload structure.
func (b *Builder) qualityScore(rec *Record) float64 {
	total := b.completenessScore(rec) +
		b.consistencyScore(rec) +
		b.timestampScore(rec) +
		b.payloadScore(rec)
	return total / qualitySubScores
}

// completenessScore is the fraction of required fields present.
func (b *Builder) completenessScore(rec *Record) float64 {
	required := []bool{
		rec.DeviceID != "",
		rec.DeviceKind != "",
		rec.MessageKind != "",
		!rec.Timestamp.IsZero(),
		rec.Payload != nil,
	}
	present := 0
	for _, ok := range required {
		if ok {
			present++
		}
	}
	return 100 * float64(present) / float64(len(required))
}

// consistencyScore runs type and range checks on required fields.
func (b *Builder) consistencyScore(rec *Record) float64 {
	checks := []bool{
		rec.DeviceKind == decode.DeviceKindB || rec.DeviceKind == decode.DeviceKindT,
		rec.MessageKind != decode.KindUnknown,
		rec.ModuleNumber == nil || *rec.ModuleNumber >= 0,
	}
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return 100 * float64(passed) / float64(len(checks))
}

// timestampScore checks validity and recency.
func (b *Builder) timestampScore(rec *Record) float64 {
	if rec.Timestamp.IsZero() {
		return 0
	}
	age := b.now().Sub(rec.Timestamp)
	if age < 0 {
		age = -age
	}
	if age > maxTimestampAge {
		return 50
	}
	return 100
}

// payloadScore runs kind-specific structural checks.
func (b *Builder) payloadScore(rec *Record) float64 {
	switch p := rec.Payload.(type) {
	case RfidPayload:
		if p.RfidData == nil {
			return 0
		}
		if p.RfidCount != len(p.RfidData) || p.UCount < 0 {
			return 50
		}
		return 100
	case TempHumPayload:
		if p.Sensors == nil {
			return 0
		}
		if p.SensorCount != len(p.Sensors) {
			return 50
		}
		return 100
	case NoisePayload:
		if p.Sensors == nil {
			return 0
		}
		if p.SensorCount != len(p.Sensors) {
			return 50
		}
		return 100
	case DoorPayload:
		if p.Status == "" {
			return 0
		}
		return 100
	case ColorPayload:
		if p.Colors == nil {
			return 0
		}
		return 100
	case GenericPayload:
		if p.Fields == nil && p.Entries == nil {
			return 50
		}
		return 100
	case nil:
		return 0
	}
	return 100
}
