package broker

import (
	"strings"

	"github.com/chanbus/chanbus/core/channel"
	"github.com/chanbus/chanbus/core/transport"
	"github.com/chanbus/chanbus/pkg/logger"
)

// handleSubscribe answers a peer's subscribe request against the channel's
// access predicate.
func (n *Node) handleSubscribe(from transport.Subject, channelName string) (bool, string) {
	granted, reason := n.registry.Authorize(channelName, from)
	if !granted {
		n.logger.Info("subscribe request denied",
			logger.Channel(channelName),
			logger.Subject(int64(from)),
			logger.Error(ErrAccessDenied),
			logger.Reason(reason))
	}
	return granted, reason
}

// handleCreate answers a peer's create-channel request. Creating an
// existing channel is granted without changes unless the requester owns it,
// in which case the wire config overrides the stored limits. New channels
// get a default access predicate admitting the creator, the authority, and
// any privileged subjects.
func (n *Node) handleCreate(from transport.Subject, channelName string, cfg transport.ChannelConfig) bool {
	if ch, ok := n.registry.Get(channelName); ok {
		if from == ch.Owner {
			n.applyConfigOverrides(channelName, cfg)
		}
		return true
	}

	opts := channel.FromConfig(cfg)
	opts = append(opts, channel.WithAccessCheck(n.defaultAccessFor(from)))

	if _, err := n.registry.Register(channelName, from, opts...); err != nil {
		n.logger.Warn("create-channel request failed",
			logger.Channel(channelName),
			logger.Subject(int64(from)),
			logger.Error(err))
		return false
	}
	return true
}

// applyConfigOverrides maps wire config fields onto the registry setters.
func (n *Node) applyConfigOverrides(channelName string, cfg transport.ChannelConfig) {
	if cfg.MaxPayloadSize > 0 {
		if err := n.registry.SetMaxPayloadSize(channelName, cfg.MaxPayloadSize); err != nil {
			n.logger.Warn("max payload size override failed",
				logger.Channel(channelName), logger.Error(err))
		}
	}
	if cfg.DisableBatching || cfg.BatchInterval > 0 {
		if err := n.registry.ConfigureBatching(channelName, !cfg.DisableBatching, cfg.BatchInterval); err != nil {
			n.logger.Warn("batching override failed",
				logger.Channel(channelName), logger.Error(err))
		}
	}
}

// defaultAccessFor is the predicate installed on peer-created channels that
// arrive without one.
func (n *Node) defaultAccessFor(creator transport.Subject) channel.AccessFunc {
	return func(subject transport.Subject) bool {
		if subject == creator || subject == transport.Authority {
			return true
		}
		_, ok := n.privileged[subject]
		return ok
	}
}

// HandleDeparture purges every trace of a departed subject: channel
// subscriptions and rate-limit windows. Wired as the endpoint's disconnect
// hook and callable directly by custom transports.
func (n *Node) HandleDeparture(subject transport.Subject) {
	ctx := n.runCtx()
	removed := n.registry.RemoveSubject(subject)

	suffix := rateKeySuffix(subject)
	purged := n.limiter.ResetMatching(ctx, func(key string) bool {
		return strings.HasSuffix(key, suffix)
	})

	n.logger.InfoContext(ctx, "subject departed",
		logger.Subject(int64(subject)),
		logger.Count("subscriptions_removed", removed),
		logger.Count("rate_windows_purged", purged))
}
