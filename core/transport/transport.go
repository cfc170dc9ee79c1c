package transport

import (
	"context"
	"time"

	"github.com/chanbus/chanbus/core/payload"
)

// Subject is an opaque, comparable identifier for a sender or subscriber.
// The transport layer is trusted to supply it correctly.
type Subject int64

// Authority is the sentinel subject of the single privileged node.
const Authority Subject = 0

// Message is one data message on the wire.
type Message struct {
	Channel string          `json:"channel"`
	Sender  Subject         `json:"sender"`
	Payload []payload.Value `json:"payload"`
}

// ChannelConfig carries the wire-safe channel options of a create-channel
// request. Zero fields mean "use the authority's defaults". Predicates never
// cross the wire; a peer-created channel gets the authority's default access
// predicate.
type ChannelConfig struct {
	RateLimit       int           `json:"rate_limit,omitempty"`
	Priority        int           `json:"priority,omitempty"`
	MaxPayloadSize  int           `json:"max_payload_size,omitempty"`
	BatchInterval   time.Duration `json:"batch_interval,omitempty"`
	DisableBatching bool          `json:"disable_batching,omitempty"`
}

// ReceiverFunc consumes an inbound data message.
type ReceiverFunc func(msg Message)

// Endpoint moves data messages between a node and the far side.
type Endpoint interface {
	// Send delivers a data message. On the authority, to addresses one
	// peer; on a peer, the message goes to the authority regardless of to.
	Send(ctx context.Context, to Subject, msg Message) error

	// SetReceiver installs the inbound delivery callback. Must be called
	// before traffic flows.
	SetReceiver(fn ReceiverFunc)

	// Close tears down the endpoint. Subsequent sends fail with ErrClosed.
	Close() error
}

// Requester is the peer-side request/response surface.
type Requester interface {
	// Subscribe asks the authority for access to a channel.
	Subscribe(ctx context.Context, channel string) (granted bool, reason string, err error)

	// CreateChannel asks the authority to create (or idempotently return)
	// a channel with the given options.
	CreateChannel(ctx context.Context, channel string, cfg ChannelConfig) (granted bool, err error)
}

// SubscribeHandlerFunc answers a peer's subscribe request.
type SubscribeHandlerFunc func(from Subject, channel string) (granted bool, reason string)

// CreateHandlerFunc answers a peer's create-channel request.
type CreateHandlerFunc func(from Subject, channel string, cfg ChannelConfig) bool

// DisconnectHandlerFunc is invoked when a peer departs.
type DisconnectHandlerFunc func(subject Subject)

// Responder is the authority-side hook surface.
type Responder interface {
	SetSubscribeHandler(fn SubscribeHandlerFunc)
	SetCreateHandler(fn CreateHandlerFunc)
	SetDisconnectHandler(fn DisconnectHandlerFunc)
}
