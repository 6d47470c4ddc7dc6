package mqtt

import "errors"

var (
	ErrNotConnected      = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed  = errors.New("mqtt: broker connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrPayloadTooLarge   = errors.New("mqtt: payload too large")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrNilHandler        = errors.New("mqtt: nil message handler")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1, or 2")

	// ErrInvalidTopic covers empty topics, wildcards in publish topics,
	// malformed subscription filters and topics outside the device scheme.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
