// Package decode parses raw gateway frames into intermediate records.
//
// Two gateway families are supported:
//
//   - Family B: a compact binary protocol, often transported as ASCII
//     hex text. Frames are classified by the topic's third segment and,
//     for the ambiguous "OpeAck" category, by their leading bytes.
//   - Family T: a structured JSON protocol with a msg_type discriminator
//     and a data container holding one entry per module port.
//
// The Registry routes frames to the decoder registered for their topic
// prefix and falls back to a pass-through record when a known family
// produces an unclassifiable frame.
//
// All decoding is pure: decoders hold no state, take (topic, payload),
// and return intermediate records or an error. Bounds-checked read
// primitives (ReadU8, ReadU16BE, ...) fail with ErrFrameTruncated when
// a read would cross the frame boundary.
package decode
