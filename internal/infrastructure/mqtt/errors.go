package mqtt

import "errors"

// Sentinel errors for broker operations; check with errors.Is.
var (
	// ErrNotConnected is returned while the auto-reconnect loop is
	// still trying to reach the broker.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial dial fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
