package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chanbus/chanbus/core/payload"
	"github.com/chanbus/chanbus/core/transport"

	"github.com/chanbus/chanbus/pkg/logger"
)

// DefaultTickInterval approximates the original's 60 Hz drain rate.
const DefaultTickInterval = 16 * time.Millisecond

// Dispatcher consumes drained queues. Implementations fan the payloads out
// to local handlers and the transport.
type Dispatcher interface {
	// DispatchBatch delivers a whole queue as one batch envelope. Every
	// inner payload remains an individually addressable message.
	DispatchBatch(channel string, origin transport.Subject, batch [][]payload.Value)

	// DispatchSingle delivers one message outside any envelope, used by
	// the per-message fallback when a combined batch exceeds its budget.
	DispatchSingle(channel string, sender transport.Subject, values []payload.Value)
}

// Limits resolves per-channel constraints at tick time.
type Limits interface {
	// MaxPayloadSize returns the channel's size budget in bytes, or false
	// when the channel is not resolvable.
	MaxPayloadSize(channel string) (int, bool)

	// MinBatchInterval returns the smallest registered per-channel drain
	// interval, or zero when none is set.
	MinBatchInterval() time.Duration
}

type queueKey struct {
	channel string
	origin  transport.Subject
}

type queuedMessage struct {
	sender   transport.Subject
	priority int
	values   []payload.Value
	seq      uint64
}

// Scheduler drains per-(channel, origin) queues on a fixed-rate tick.
type Scheduler struct {
	dispatcher Dispatcher
	limits     Limits

	mu     sync.Mutex
	queues map[queueKey][]queuedMessage
	order  []queueKey // first-enqueue order, keeps drains deterministic
	seq    uint64

	interval        time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	running     atomic.Bool
	wg          sync.WaitGroup

	// Observability metrics
	ticks              atomic.Int64
	batchesDispatched  atomic.Int64
	messagesDispatched atomic.Int64
	messagesDropped    atomic.Int64
}

// SchedulerStats provides observability metrics for monitoring and debugging.
type SchedulerStats struct {
	Ticks              int64 // Completed drain passes
	BatchesDispatched  int64 // Queues dispatched as one envelope
	MessagesDispatched int64 // Logical messages handed to the dispatcher
	MessagesDropped    int64 // Messages lost to size overflow or missing channels
	PendingMessages    int   // Messages currently queued
	IsRunning          bool  // Whether the tick loop is running
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets the base drain rate. Default is ~60 Hz.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerShutdownTimeout sets the graceful shutdown timeout.
func WithSchedulerShutdownTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// WithSchedulerLogger sets the logger for scheduler events.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates a batch scheduler draining into the dispatcher.
func NewScheduler(dispatcher Dispatcher, limits Limits, opts ...SchedulerOption) (*Scheduler, error) {
	if dispatcher == nil {
		return nil, ErrDispatcherNil
	}
	if limits == nil {
		return nil, ErrLimitsNil
	}

	s := &Scheduler{
		dispatcher:      dispatcher,
		limits:          limits,
		queues:          make(map[queueKey][]queuedMessage),
		interval:        DefaultTickInterval,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Enqueue adds a message to its (channel, origin) queue for the next tick.
// Once enqueued, the message is delivered or dropped; it cannot be withdrawn.
func (s *Scheduler) Enqueue(channel string, sender transport.Subject, priority int, values []payload.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := queueKey{channel: channel, origin: sender}
	if _, exists := s.queues[k]; !exists {
		s.order = append(s.order, k)
	}

	s.seq++
	s.queues[k] = append(s.queues[k], queuedMessage{
		sender:   sender,
		priority: priority,
		values:   values,
		seq:      s.seq,
	})
}

// Start begins the tick loop. This is a blocking operation that runs until
// the context is cancelled. Use Run() for errgroup pattern or call this in a
// goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.cancel != nil {
		s.lifecycleMu.Unlock()
		return ErrSchedulerAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lifecycleMu.Unlock()

	interval := s.interval
	if minInterval := s.limits.MinBatchInterval(); minInterval > 0 && minInterval < interval {
		interval = minInterval
	}

	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.InfoContext(s.ctx, "batch scheduler started",
		slog.Duration("tick_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("batch scheduler stopping")
			return s.ctx.Err()
		case <-ticker.C:
			s.tickWithWait()
		}
	}
}

// Stop gracefully shuts down the scheduler with a timeout, so the last tick
// never dispatches into a torn-down transport.
func (s *Scheduler) Stop() error {
	s.lifecycleMu.Lock()
	if s.cancel == nil {
		s.lifecycleMu.Unlock()
		return ErrSchedulerNotStarted
	}
	cancel := s.cancel
	s.cancel = nil
	s.lifecycleMu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("batch scheduler stopped cleanly")
		return nil
	case <-ctx.Done():
		s.logger.Warn("batch scheduler shutdown timeout exceeded",
			slog.Duration("timeout", s.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = s.Stop() // Ignore stop error in normal shutdown
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

// Flush drains every queue immediately, outside the tick cadence. Used on
// shutdown and anywhere a deterministic drain is needed.
func (s *Scheduler) Flush(ctx context.Context) {
	s.drain()
}

// tickWithWait tracks one drain pass with the WaitGroup so Stop can wait for
// an in-flight tick.
func (s *Scheduler) tickWithWait() {
	s.lifecycleMu.Lock()
	if s.cancel == nil {
		s.lifecycleMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.lifecycleMu.Unlock()

	defer s.wg.Done()
	s.drain()
}

func (s *Scheduler) drain() {
	s.mu.Lock()
	if len(s.order) == 0 {
		s.mu.Unlock()
		s.ticks.Add(1)
		return
	}
	queues := s.queues
	order := s.order
	s.queues = make(map[queueKey][]queuedMessage)
	s.order = nil
	s.mu.Unlock()

	for _, k := range order {
		s.drainQueue(k, queues[k])
	}

	s.ticks.Add(1)
}

// drainQueue processes one (channel, origin) queue. The messages were
// already removed from the queue map; whatever is not dispatched here is
// gone for this tick.
func (s *Scheduler) drainQueue(k queueKey, msgs []queuedMessage) {
	if len(msgs) == 0 {
		return
	}

	// Stable: equal priorities keep insertion order.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].priority > msgs[j].priority
	})

	maxSize, ok := s.limits.MaxPayloadSize(k.channel)
	if !ok {
		s.messagesDropped.Add(int64(len(msgs)))
		s.logger.Warn("channel vanished, dropping tick's messages",
			logger.Channel(k.channel),
			logger.Count("dropped", len(msgs)))
		return
	}

	combined := 0
	for _, m := range msgs {
		combined += payload.EstimateAll(m.values)
	}

	if combined <= maxSize {
		batch := make([][]payload.Value, len(msgs))
		for i, m := range msgs {
			batch[i] = m.values
		}
		s.dispatcher.DispatchBatch(k.channel, k.origin, batch)
		s.batchesDispatched.Add(1)
		s.messagesDispatched.Add(int64(len(msgs)))
		return
	}

	// Combined batch over budget: fall back to per-message dispatch.
	// Oversized individual messages are dropped and never delivered.
	for _, m := range msgs {
		within, size := payload.CheckSizeLimit(m.values, maxSize)
		if !within {
			s.messagesDropped.Add(1)
			s.logger.Warn("message exceeds channel size budget, dropped",
				logger.Channel(k.channel),
				logger.Subject(int64(m.sender)),
				slog.Int("size", size),
				slog.Int("limit", maxSize))
			continue
		}
		s.dispatcher.DispatchSingle(k.channel, m.sender, m.values)
		s.messagesDispatched.Add(1)
	}
}

// Stats returns current scheduler statistics for observability and
// monitoring. This method is thread-safe and can be called at any time.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	pending := 0
	for _, q := range s.queues {
		pending += len(q)
	}
	s.mu.Unlock()

	return SchedulerStats{
		Ticks:              s.ticks.Load(),
		BatchesDispatched:  s.batchesDispatched.Load(),
		MessagesDispatched: s.messagesDispatched.Load(),
		MessagesDropped:    s.messagesDropped.Load(),
		PendingMessages:    pending,
		IsRunning:          s.running.Load(),
	}
}

// Healthcheck validates that the scheduler is operational.
func (s *Scheduler) Healthcheck(ctx context.Context) error {
	if !s.running.Load() {
		return errors.Join(ErrHealthcheckFailed, ErrSchedulerNotStarted)
	}
	return nil
}
