package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/chanbus/chanbus/core/batch"
	"github.com/chanbus/chanbus/core/channel"
	"github.com/chanbus/chanbus/core/transport"
	"github.com/chanbus/chanbus/pkg/ratelimiter"
)

// Role distinguishes the single privileged authority from ordinary peers.
type Role int

const (
	RoleAuthority Role = iota
	RolePeer
)

// Node is one process's broker endpoint. Construct with NewAuthority or
// NewPeer, attach handlers with On, and move traffic with Send.
type Node struct {
	role Role
	self transport.Subject
	cfg  Config

	registry  *channel.Registry
	limiter   *ratelimiter.MemoryStore
	scheduler *batch.Scheduler
	endpoint  transport.Endpoint
	requester transport.Requester // non-nil on peers whose endpoint supports requests
	logger    *slog.Logger

	privileged map[transport.Subject]struct{}

	// State management
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	running     atomic.Bool
	wg          sync.WaitGroup // tracks in-flight handler invocations

	// Observability metrics
	messagesSent        atomic.Int64
	messagesDelivered   atomic.Int64
	messagesFiltered    atomic.Int64
	messagesRateLimited atomic.Int64
	handlerFailures     atomic.Int64
}

// NodeStats provides observability metrics for monitoring and debugging.
type NodeStats struct {
	MessagesSent        int64 // Sends accepted into the pipeline
	MessagesDelivered   int64 // Successful local handler invocations
	MessagesFiltered    int64 // Inbound messages blocked by content filters
	MessagesRateLimited int64 // Sends and inbound messages dropped by rate limiting
	HandlerFailures     int64 // Handler errors and panics, all isolated
	IsRunning           bool  // Whether the node lifecycle is running
}

// Option configures a Node.
type Option func(*Node)

// WithConfig replaces the node's configuration. Zero fields fall back to
// documented defaults.
func WithConfig(cfg Config) Option {
	return func(n *Node) {
		n.cfg = cfg.normalized()
	}
}

// WithLogger sets the logger shared by the node and its components.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithPrivilegedSubjects names subjects granted access by the default
// predicate applied to peer-created channels.
func WithPrivilegedSubjects(subjects ...transport.Subject) Option {
	return func(n *Node) {
		for _, s := range subjects {
			n.privileged[s] = struct{}{}
		}
	}
}

// NewAuthority creates the authority node on the given endpoint. When the
// endpoint implements transport.Responder, the subscribe, create-channel,
// and disconnect hooks are wired automatically.
func NewAuthority(endpoint transport.Endpoint, opts ...Option) (*Node, error) {
	n, err := newNode(RoleAuthority, transport.Authority, endpoint, opts...)
	if err != nil {
		return nil, err
	}

	if responder, ok := endpoint.(transport.Responder); ok {
		responder.SetSubscribeHandler(n.handleSubscribe)
		responder.SetCreateHandler(n.handleCreate)
		responder.SetDisconnectHandler(n.HandleDeparture)
	}

	return n, nil
}

// NewPeer creates a peer node for the given subject. When the endpoint
// implements transport.Requester, Register and Subscribe go through the
// authority's request protocol.
func NewPeer(self transport.Subject, endpoint transport.Endpoint, opts ...Option) (*Node, error) {
	n, err := newNode(RolePeer, self, endpoint, opts...)
	if err != nil {
		return nil, err
	}

	if requester, ok := endpoint.(transport.Requester); ok {
		n.requester = requester
	}

	return n, nil
}

func newNode(role Role, self transport.Subject, endpoint transport.Endpoint, opts ...Option) (*Node, error) {
	if endpoint == nil {
		return nil, ErrEndpointNil
	}

	n := &Node{
		role:       role,
		self:       self,
		cfg:        DefaultConfig(),
		endpoint:   endpoint,
		privileged: make(map[transport.Subject]struct{}),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(n)
	}

	n.registry = channel.NewRegistry(role == RoleAuthority, channel.Defaults{
		RateLimit:      n.cfg.DefaultRateLimit,
		Priority:       n.cfg.DefaultPriority,
		MaxPayloadSize: n.cfg.DefaultMaxPayloadSize,
		BatchInterval:  n.cfg.TickInterval,
	}, channel.WithRegistryLogger(n.logger))

	n.limiter = ratelimiter.NewMemoryStore(
		ratelimiter.WithWindow(n.cfg.RateLimitWindow),
		ratelimiter.WithMemoryStoreShutdownTimeout(n.cfg.ShutdownTimeout),
		ratelimiter.WithMemoryStoreLogger(n.logger),
	)

	scheduler, err := batch.NewScheduler(schedulerSink{node: n}, n.registry,
		batch.WithTickInterval(n.cfg.TickInterval),
		batch.WithSchedulerShutdownTimeout(n.cfg.ShutdownTimeout),
		batch.WithSchedulerLogger(n.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	n.scheduler = scheduler

	endpoint.SetReceiver(n.handleInbound)

	return n, nil
}

// Role returns the node's role.
func (n *Node) Role() Role { return n.role }

// Self returns the node's own subject identifier.
func (n *Node) Self() transport.Subject { return n.self }

// Start runs the batch scheduler and rate-limit maintenance. This is a
// blocking operation that runs until the context is cancelled. Use Run()
// for errgroup pattern or call this in a goroutine.
//
// A node is usable before Start for channels with batching disabled; Start
// is required for batched delivery.
func (n *Node) Start(ctx context.Context) error {
	n.lifecycleMu.Lock()
	if n.cancel != nil {
		n.lifecycleMu.Unlock()
		return ErrNodeAlreadyStarted
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	runCtx := n.ctx
	n.lifecycleMu.Unlock()

	n.running.Store(true)
	defer n.running.Store(false)

	n.logger.InfoContext(runCtx, "broker node started",
		slog.Int("role", int(n.role)),
		slog.Int64("self", int64(n.self)),
		slog.Duration("tick_interval", n.cfg.TickInterval))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(n.scheduler.Run(gctx))
	g.Go(n.limiter.Run(gctx))
	return g.Wait()
}

// Stop cancels the lifecycle, stopping the scheduler timer before the
// transport can be torn down, and waits for in-flight handlers.
func (n *Node) Stop() error {
	n.lifecycleMu.Lock()
	if n.cancel == nil {
		n.lifecycleMu.Unlock()
		return ErrNodeNotStarted
	}
	cancel := n.cancel
	n.cancel = nil
	n.lifecycleMu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), n.cfg.ShutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("broker node stopped cleanly")
		return nil
	case <-ctx.Done():
		n.logger.Warn("broker node shutdown timeout exceeded - some handlers may be abandoned",
			slog.Duration("timeout", n.cfg.ShutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", n.cfg.ShutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (n *Node) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- n.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = n.Stop() // Ignore stop error in normal shutdown
			<-errCh      // Wait for Start() to exit
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Flush drains every batch queue immediately.
func (n *Node) Flush(ctx context.Context) {
	n.scheduler.Flush(ctx)
}

// Stats returns current node statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (n *Node) Stats() NodeStats {
	return NodeStats{
		MessagesSent:        n.messagesSent.Load(),
		MessagesDelivered:   n.messagesDelivered.Load(),
		MessagesFiltered:    n.messagesFiltered.Load(),
		MessagesRateLimited: n.messagesRateLimited.Load(),
		HandlerFailures:     n.handlerFailures.Load(),
		IsRunning:           n.running.Load(),
	}
}

// Healthcheck validates that the node and its components are operational.
func (n *Node) Healthcheck(ctx context.Context) error {
	if !n.running.Load() {
		return errors.Join(ErrHealthcheckFailed, ErrNodeNotStarted)
	}
	return errors.Join(n.scheduler.Healthcheck(ctx), n.limiter.Healthcheck(ctx))
}

// runCtx returns the lifecycle context, or Background before Start.
func (n *Node) runCtx() context.Context {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	if n.ctx != nil {
		return n.ctx
	}
	return context.Background()
}

// callerSubject is the subject the node acts as in registry operations.
func (n *Node) callerSubject() transport.Subject {
	if n.role == RoleAuthority {
		return transport.Authority
	}
	return n.self
}

const rateKeySep = ":"

func rateKey(channelName string, subject transport.Subject) string {
	return fmt.Sprintf("%s%s%d", channelName, rateKeySep, subject)
}

func rateKeySuffix(subject transport.Subject) string {
	return fmt.Sprintf("%s%d", rateKeySep, subject)
}
