package decode

import "errors"

// Domain-specific errors for frame decoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrFrameTruncated is returned when a read would cross the frame boundary.
	ErrFrameTruncated = errors.New("decode: frame truncated")

	// ErrUnknownMessageKind is returned when a frame cannot be classified.
	ErrUnknownMessageKind = errors.New("decode: unknown message kind")

	// ErrInvalidTopic is returned when the device ID cannot be extracted from the topic.
	ErrInvalidTopic = errors.New("decode: invalid topic")

	// ErrDecodeFailed is returned when a classified frame fails structural parsing.
	ErrDecodeFailed = errors.New("decode: decode failed")

	// ErrNoDecoder is returned when no decoder is registered for the topic prefix.
	ErrNoDecoder = errors.New("decode: no decoder for topic prefix")
)
