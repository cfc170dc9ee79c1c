package broker

import (
	"errors"

	"github.com/chanbus/chanbus/core/channel"
	"github.com/chanbus/chanbus/core/transport"
)

var (
	// ErrSetupNotReady is returned when transport endpoints are unavailable;
	// the caller should retry later.
	ErrSetupNotReady = transport.ErrSetupNotReady

	// ErrUnknownChannel is returned when an operation references a channel
	// that is not registered.
	ErrUnknownChannel = channel.ErrUnknownChannel

	// ErrSizeLimitExceeded is returned when a payload exceeds the channel's
	// configured byte budget; the message is not delivered.
	ErrSizeLimitExceeded = errors.New("payload exceeds size limit")

	// ErrRateLimited is returned when a subject exceeds its window quota.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrAccessDenied is returned when a subscription predicate refuses a
	// subject or a create-channel request is not granted.
	ErrAccessDenied = errors.New("access denied")

	// ErrFilterRejected marks a message blocked by a channel's content
	// filter; it is dropped and the reason logged.
	ErrFilterRejected = errors.New("message rejected by filter")

	// ErrHandlerFailure marks a handler error or panic. Always isolated:
	// logged, never propagated to the sender or the other handlers.
	ErrHandlerFailure = errors.New("handler failure")

	// ErrEndpointNil is returned when a node is created without a transport
	// endpoint.
	ErrEndpointNil = errors.New("transport endpoint is nil")

	// ErrNotPeer is returned for peer-only operations invoked on the
	// authority.
	ErrNotPeer = errors.New("operation requires a peer node")

	// ErrNodeAlreadyStarted is returned when starting a running node.
	ErrNodeAlreadyStarted = errors.New("node already started")

	// ErrNodeNotStarted is returned when stopping a node that is not running.
	ErrNodeNotStarted = errors.New("node not started")

	// ErrHealthcheckFailed marks a failed node healthcheck.
	ErrHealthcheckFailed = errors.New("healthcheck failed")
)
