package pipeline

import "errors"

var (
	// ErrNotRunning is returned when a frame arrives outside the
	// Running state.
	ErrNotRunning = errors.New("pipeline: not running")

	// ErrQueueFull is returned when a worker queue cannot accept a
	// frame. The frame is dropped and counted.
	ErrQueueFull = errors.New("pipeline: worker queue full")
)
