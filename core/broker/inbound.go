package broker

import (
	"github.com/chanbus/chanbus/core/payload"
	"github.com/chanbus/chanbus/core/transport"
	"github.com/chanbus/chanbus/pkg/logger"
)

// handleInbound consumes one wire message from the endpoint. Batch
// envelopes are unpacked here so the rest of the pipeline only ever sees
// logical messages.
func (n *Node) handleInbound(msg transport.Message) {
	if msg.Sender == n.self {
		return
	}

	if n.role == RoleAuthority {
		n.inboundAuthority(msg)
		return
	}
	n.inboundPeer(msg)
}

// inboundAuthority validates a peer's message and relays it: rate limit
// charged once per wire message, then the content filter runs per logical
// message before the relay to other subscribers.
func (n *Node) inboundAuthority(msg transport.Message) {
	ctx := n.runCtx()

	ch, ok := n.registry.Get(msg.Channel)
	if !ok {
		n.logger.WarnContext(ctx, "inbound message for unknown channel dropped",
			logger.Channel(msg.Channel),
			logger.Subject(int64(msg.Sender)),
			logger.Error(ErrUnknownChannel))
		return
	}

	if !n.limiter.Allow(ctx, rateKey(msg.Channel, msg.Sender), ch.RateLimit) {
		n.messagesRateLimited.Add(1)
		n.logger.WarnContext(ctx, "inbound message rate limited",
			logger.Channel(msg.Channel),
			logger.Subject(int64(msg.Sender)),
			logger.Error(ErrRateLimited))
		return
	}

	batch, isBatch := transport.UnpackBatch(msg.Payload)
	if !isBatch {
		batch = [][]payload.Value{msg.Payload}
	}

	for _, values := range batch {
		if within, size := payload.CheckSizeLimit(values, ch.MaxPayloadSize); !within {
			n.logger.WarnContext(ctx, "inbound message over size budget dropped",
				logger.Channel(msg.Channel),
				logger.Subject(int64(msg.Sender)),
				logger.Count("size", size),
				logger.Error(ErrSizeLimitExceeded))
			continue
		}

		blocked, reason, replacement := n.registry.ApplyFilter(msg.Channel, msg.Sender, values)
		if blocked {
			n.messagesFiltered.Add(1)
			n.logger.InfoContext(ctx, "inbound message blocked by filter",
				logger.Channel(msg.Channel),
				logger.Subject(int64(msg.Sender)),
				logger.Error(ErrFilterRejected),
				logger.Reason(reason))
			continue
		}
		if replacement != nil {
			values = replacement
		}

		if ch.BatchingEnabled {
			n.scheduler.Enqueue(msg.Channel, msg.Sender, ch.Priority, values)
			continue
		}
		n.dispatchSingle(msg.Channel, msg.Sender, values)
	}
}

// inboundPeer delivers an authority relay to the peer's local handlers,
// preserving the envelope's message order.
func (n *Node) inboundPeer(msg transport.Message) {
	batch, isBatch := transport.UnpackBatch(msg.Payload)
	if !isBatch {
		batch = [][]payload.Value{msg.Payload}
	}
	n.deliverLocal(msg.Channel, msg.Sender, batch)
}
