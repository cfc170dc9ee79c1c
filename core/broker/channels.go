package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/chanbus/chanbus/core/channel"
	"github.com/chanbus/chanbus/core/transport"
)

// Register creates a channel. On the authority the channel is registered
// locally and becomes canonical. On a peer whose endpoint supports requests
// the create-channel protocol runs first, so the authority holds the
// canonical entry before the local mirror is written.
func (n *Node) Register(ctx context.Context, channelName string, opts ...channel.Option) error {
	if n.role == RolePeer && n.requester != nil {
		granted, err := n.requester.CreateChannel(ctx, channelName, channel.ToConfig(opts...))
		if err != nil {
			return fmt.Errorf("create channel %s: %w", channelName, err)
		}
		if !granted {
			return fmt.Errorf("%w: channel %s", ErrAccessDenied, channelName)
		}
	}

	if _, err := n.registry.Register(channelName, n.callerSubject(), opts...); err != nil {
		return err
	}
	return nil
}

// Subscribe asks the authority to admit this peer to the channel, then
// mirrors the channel locally so handlers can attach. Peer-only.
func (n *Node) Subscribe(ctx context.Context, channelName string) error {
	if n.role != RolePeer {
		return ErrNotPeer
	}
	if n.requester == nil {
		return ErrSetupNotReady
	}

	granted, reason, err := n.requester.Subscribe(ctx, channelName)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", channelName, err)
	}
	if !granted {
		if reason != "" {
			return fmt.Errorf("%w: %s", ErrAccessDenied, reason)
		}
		return fmt.Errorf("%w: channel %s", ErrAccessDenied, channelName)
	}

	_, err = n.registry.Register(channelName, n.self)
	return err
}

// On attaches a handler invoked for every inbound message on the channel.
// Handlers run concurrently with each other and are panic-isolated.
func (n *Node) On(channelName string, fn channel.HandlerFunc) error {
	return n.registry.AddHandler(channelName, fn)
}

// AddFilter installs a content filter on the channel. Authority-side
// filters gate relayed traffic; peer-side filters are local only.
func (n *Node) AddFilter(channelName string, fn channel.FilterFunc) error {
	return n.registry.AddFilter(channelName, n.callerSubject(), fn)
}

// SetAccess replaces the channel's subscription predicate. The authority
// may target any channel, creating it if unknown; a peer only its own.
func (n *Node) SetAccess(channelName string, fn channel.AccessFunc) error {
	return n.registry.SetAccess(channelName, n.callerSubject(), fn)
}

// SetMaxPayloadSize changes the channel's byte budget.
func (n *Node) SetMaxPayloadSize(channelName string, bytes int) error {
	return n.registry.SetMaxPayloadSize(channelName, bytes)
}

// ConfigureBatching toggles batching and adjusts the drain interval for the
// channel. Interval changes take effect on the next scheduler start.
func (n *Node) ConfigureBatching(channelName string, enabled bool, interval time.Duration) error {
	return n.registry.ConfigureBatching(channelName, enabled, interval)
}

// IsSubscribed reports whether the subject is recorded as a subscriber of
// the channel. Meaningful on the authority.
func (n *Node) IsSubscribed(channelName string, subject transport.Subject) bool {
	return n.registry.IsSubscribed(channelName, subject)
}
