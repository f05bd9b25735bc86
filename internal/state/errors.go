package state

import "errors"

var (
	// ErrStateFailed indicates the engine could not process a record;
	// the caller passes the record through unannotated.
	ErrStateFailed = errors.New("state: update failed")
)
