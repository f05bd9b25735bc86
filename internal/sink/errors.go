package sink

import "errors"

var (
	// ErrBufferClosed indicates a push after the write buffer shut down.
	ErrBufferClosed = errors.New("sink: write buffer closed")

	// ErrSaveFailed indicates a batch insert that exhausted its retries.
	ErrSaveFailed = errors.New("sink: save failed")
)
