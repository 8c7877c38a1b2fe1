package influxdb

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates telemetry is switched off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
