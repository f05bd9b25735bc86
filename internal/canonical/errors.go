package canonical

import "errors"

var (
	// ErrMissingDeviceID indicates a record without a device identity.
	ErrMissingDeviceID = errors.New("canonical: missing device id")

	// ErrUnsupportedKind indicates a message kind the mapper cannot project.
	ErrUnsupportedKind = errors.New("canonical: unsupported message kind")
)
