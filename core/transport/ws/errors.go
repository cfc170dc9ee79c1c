package ws

import "errors"

var (
	// ErrHandshakeFailed is returned when the hello exchange does not
	// complete after the WebSocket upgrade.
	ErrHandshakeFailed = errors.New("ws handshake failed")

	// ErrUnknownFrame marks an inbound frame with an unrecognized type.
	ErrUnknownFrame = errors.New("unknown frame type")

	// ErrSendQueueFull is returned when a peer's outbound queue is full,
	// usually a slow or stuck consumer.
	ErrSendQueueFull = errors.New("send queue full")
)
