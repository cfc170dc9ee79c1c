package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Network is an in-memory realization of the wire model connecting one
// authority endpoint with any number of peer endpoints. Delivery is
// synchronous in the caller's goroutine, which keeps tests deterministic.
type Network struct {
	mu        sync.RWMutex
	authority *AuthorityEndpoint
	peers     map[Subject]*PeerEndpoint
	logger    *slog.Logger
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithNetworkLogger sets the logger for transport-level events.
func WithNetworkLogger(logger *slog.Logger) NetworkOption {
	return func(n *Network) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewMemoryNetwork creates an empty in-memory network.
func NewMemoryNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		peers:  make(map[Subject]*PeerEndpoint),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// AuthorityEndpoint returns the authority side of the network, creating it
// on first call.
func (n *Network) AuthorityEndpoint() *AuthorityEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.authority == nil {
		n.authority = &AuthorityEndpoint{network: n}
	}
	return n.authority
}

// Connect attaches a new peer endpoint for the given subject. Reconnecting
// an existing subject replaces its endpoint.
func (n *Network) Connect(subject Subject) *PeerEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	peer := &PeerEndpoint{network: n, subject: subject}
	n.peers[subject] = peer
	n.logger.Debug("peer connected", slog.Int64("subject", int64(subject)))
	return peer
}

// Disconnect detaches a peer and fires the authority's disconnect hook.
func (n *Network) Disconnect(subject Subject) {
	n.mu.Lock()
	peer, exists := n.peers[subject]
	if exists {
		delete(n.peers, subject)
	}
	authority := n.authority
	n.mu.Unlock()

	if !exists {
		return
	}

	peer.mu.Lock()
	peer.closed = true
	peer.mu.Unlock()

	n.logger.Debug("peer disconnected", slog.Int64("subject", int64(subject)))

	if authority != nil {
		if fn := authority.disconnectHandler(); fn != nil {
			fn(subject)
		}
	}
}

func (n *Network) peer(subject Subject) (*PeerEndpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peer, ok := n.peers[subject]
	return peer, ok
}

// AuthorityEndpoint is the authority side of an in-memory network. It
// implements Endpoint and Responder.
type AuthorityEndpoint struct {
	network *Network

	mu           sync.RWMutex
	closed       bool
	receiver     ReceiverFunc
	onSubscribe  SubscribeHandlerFunc
	onCreate     CreateHandlerFunc
	onDisconnect DisconnectHandlerFunc
}

// Send delivers a data message to one connected peer.
func (a *AuthorityEndpoint) Send(ctx context.Context, to Subject, msg Message) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	peer, ok := a.network.peer(to)
	if !ok {
		return ErrUnknownSubject
	}

	peer.deliver(msg)
	return nil
}

// SetReceiver installs the authority's inbound delivery callback.
func (a *AuthorityEndpoint) SetReceiver(fn ReceiverFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.receiver = fn
}

// SetSubscribeHandler installs the subscribe request hook.
func (a *AuthorityEndpoint) SetSubscribeHandler(fn SubscribeHandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSubscribe = fn
}

// SetCreateHandler installs the create-channel request hook.
func (a *AuthorityEndpoint) SetCreateHandler(fn CreateHandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCreate = fn
}

// SetDisconnectHandler installs the peer departure hook.
func (a *AuthorityEndpoint) SetDisconnectHandler(fn DisconnectHandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDisconnect = fn
}

// Close marks the endpoint closed.
func (a *AuthorityEndpoint) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *AuthorityEndpoint) deliver(msg Message) {
	a.mu.RLock()
	fn := a.receiver
	closed := a.closed
	a.mu.RUnlock()

	if closed || fn == nil {
		return
	}
	fn(msg)
}

func (a *AuthorityEndpoint) subscribeHandler() SubscribeHandlerFunc {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.onSubscribe
}

func (a *AuthorityEndpoint) createHandler() CreateHandlerFunc {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.onCreate
}

func (a *AuthorityEndpoint) disconnectHandler() DisconnectHandlerFunc {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.onDisconnect
}

// PeerEndpoint is one peer's side of an in-memory network. It implements
// Endpoint and Requester.
type PeerEndpoint struct {
	network *Network
	subject Subject

	mu       sync.RWMutex
	closed   bool
	receiver ReceiverFunc
}

// Subject returns the peer's subject identifier.
func (p *PeerEndpoint) Subject() Subject {
	return p.subject
}

// Send delivers a data message to the authority. The addressed subject is
// ignored; peers only ever talk to the authority.
func (p *PeerEndpoint) Send(ctx context.Context, to Subject, msg Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	authority := p.authority()
	if authority == nil {
		return ErrSetupNotReady
	}

	authority.deliver(msg)
	return nil
}

// SetReceiver installs the peer's inbound delivery callback.
func (p *PeerEndpoint) SetReceiver(fn ReceiverFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiver = fn
}

// Subscribe asks the authority for access to a channel.
func (p *PeerEndpoint) Subscribe(ctx context.Context, channel string) (bool, string, error) {
	authority := p.authority()
	if authority == nil {
		return false, "", ErrSetupNotReady
	}

	fn := authority.subscribeHandler()
	if fn == nil {
		return false, "", ErrSetupNotReady
	}

	granted, reason := fn(p.subject, channel)
	return granted, reason, nil
}

// CreateChannel asks the authority to create a channel.
func (p *PeerEndpoint) CreateChannel(ctx context.Context, channel string, cfg ChannelConfig) (bool, error) {
	authority := p.authority()
	if authority == nil {
		return false, ErrSetupNotReady
	}

	fn := authority.createHandler()
	if fn == nil {
		return false, ErrSetupNotReady
	}

	return fn(p.subject, channel, cfg), nil
}

// Close detaches the peer from the network, firing the authority's
// disconnect hook.
func (p *PeerEndpoint) Close() error {
	p.network.Disconnect(p.subject)
	return nil
}

func (p *PeerEndpoint) deliver(msg Message) {
	p.mu.RLock()
	fn := p.receiver
	closed := p.closed
	p.mu.RUnlock()

	if closed || fn == nil {
		return
	}
	fn(msg)
}

func (p *PeerEndpoint) authority() *AuthorityEndpoint {
	p.network.mu.RLock()
	defer p.network.mu.RUnlock()
	return p.network.authority
}
