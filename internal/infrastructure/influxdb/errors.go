package influxdb

import "errors"

var (
	// ErrDisabled is returned when the telemetry sink is off in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned for operations on a closed client.
	ErrNotConnected = errors.New("influxdb: client not connected")
)
