package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chanbus/chanbus/core/channel"
	"github.com/chanbus/chanbus/core/payload"
	"github.com/chanbus/chanbus/core/transport"
	"github.com/chanbus/chanbus/pkg/logger"
)

// Send publishes values on a channel. On the authority the rate limit is
// enforced; on a peer it is advisory and the authority has the final say.
// Batched channels buffer until the next tick, so a nil return means
// accepted, not delivered.
func (n *Node) Send(ctx context.Context, channelName string, values ...payload.Value) error {
	ch, ok := n.registry.Get(channelName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelName)
	}

	allowed := n.limiter.Allow(ctx, rateKey(channelName, n.self), ch.RateLimit)
	if !allowed {
		if n.role == RoleAuthority {
			n.messagesRateLimited.Add(1)
			return fmt.Errorf("%w: channel %s", ErrRateLimited, channelName)
		}
		// Peers keep sending; the authority enforces its own count.
		n.logger.DebugContext(ctx, "local rate limit exceeded, sending anyway",
			logger.Channel(channelName),
			logger.Subject(int64(n.self)))
	}

	if within, size := payload.CheckSizeLimit(values, ch.MaxPayloadSize); !within {
		return fmt.Errorf("%w: %d bytes over %d budget on channel %s",
			ErrSizeLimitExceeded, size, ch.MaxPayloadSize, channelName)
	}

	n.messagesSent.Add(1)

	if ch.BatchingEnabled {
		n.scheduler.Enqueue(channelName, n.self, ch.Priority, values)
		return nil
	}

	n.dispatchSingle(channelName, n.self, values)
	return nil
}

// schedulerSink adapts the node's dispatch paths to the batch scheduler.
type schedulerSink struct {
	node *Node
}

func (s schedulerSink) DispatchBatch(channelName string, origin transport.Subject, batch [][]payload.Value) {
	s.node.dispatchBatch(channelName, origin, batch)
}

func (s schedulerSink) DispatchSingle(channelName string, sender transport.Subject, values []payload.Value) {
	s.node.dispatchSingle(channelName, sender, values)
}

// dispatchBatch moves one drained queue: a peer forwards its own sends to
// the authority as a batch envelope, the authority fans the envelope out to
// every subscriber except the origin and runs its own handlers.
func (n *Node) dispatchBatch(channelName string, origin transport.Subject, batch [][]payload.Value) {
	envelope := transport.PackBatch(batch)

	if n.role == RolePeer {
		n.sendRemote(transport.Authority, transport.Message{
			Channel: channelName,
			Sender:  origin,
			Payload: envelope,
		})
		return
	}

	if origin != n.self {
		n.deliverLocal(channelName, origin, batch)
	}

	msg := transport.Message{Channel: channelName, Sender: origin, Payload: envelope}
	for _, sub := range n.registry.Subscribers(channelName, origin) {
		n.sendRemote(sub, msg)
	}
}

// dispatchSingle moves one message outside any envelope. Used for channels
// with batching disabled and for the per-message fallback when a combined
// batch would exceed its size budget.
func (n *Node) dispatchSingle(channelName string, sender transport.Subject, values []payload.Value) {
	if n.role == RolePeer {
		n.sendRemote(transport.Authority, transport.Message{
			Channel: channelName,
			Sender:  sender,
			Payload: values,
		})
		return
	}

	if sender != n.self {
		n.deliverLocal(channelName, sender, [][]payload.Value{values})
	}

	msg := transport.Message{Channel: channelName, Sender: sender, Payload: values}
	for _, sub := range n.registry.Subscribers(channelName, sender) {
		n.sendRemote(sub, msg)
	}
}

// deliverLocal fans a batch out to the channel's local handlers. Each
// handler gets its own goroutine and walks the batch in order, so per-sender
// ordering holds within a handler while handlers never block each other.
func (n *Node) deliverLocal(channelName string, sender transport.Subject, batch [][]payload.Value) {
	handlers := n.registry.Handlers(channelName)
	if len(handlers) == 0 {
		return
	}

	ctx := n.runCtx()
	for _, fn := range handlers {
		n.wg.Add(1)
		go func(fn channel.HandlerFunc) {
			defer n.wg.Done()
			for _, values := range batch {
				n.invokeHandler(ctx, fn, channelName, sender, values)
			}
		}(fn)
	}
}

// invokeHandler runs one handler for one message, converting panics and
// errors into log output so a failing handler cannot take down delivery.
func (n *Node) invokeHandler(ctx context.Context, fn channel.HandlerFunc, channelName string, sender transport.Subject, values []payload.Value) {
	defer func() {
		if rec := recover(); rec != nil {
			n.handlerFailures.Add(1)
			n.logger.ErrorContext(ctx, "channel handler panicked",
				logger.Channel(channelName),
				logger.Subject(int64(sender)),
				logger.Error(ErrHandlerFailure),
				slog.Any("panic", rec))
		}
	}()

	if err := fn(ctx, sender, values); err != nil {
		n.handlerFailures.Add(1)
		n.logger.ErrorContext(ctx, "channel handler failed",
			logger.Channel(channelName),
			logger.Subject(int64(sender)),
			logger.Error(fmt.Errorf("%w: %v", ErrHandlerFailure, err)))
		return
	}

	n.messagesDelivered.Add(1)
}

// sendRemote pushes a wire message to one endpoint, logging delivery
// failures instead of propagating them to the sending flow.
func (n *Node) sendRemote(to transport.Subject, msg transport.Message) {
	ctx := n.runCtx()
	if err := n.endpoint.Send(ctx, to, msg); err != nil {
		n.logger.WarnContext(ctx, "transport send failed",
			logger.Channel(msg.Channel),
			logger.Subject(int64(to)),
			logger.Error(err))
	}
}
