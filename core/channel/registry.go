package channel

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chanbus/chanbus/core/payload"
	"github.com/chanbus/chanbus/core/transport"

	"github.com/chanbus/chanbus/pkg/logger"
)

// Registry owns every Channel, its subscriber set, and its handler list.
// No caller retains a mutable reference; all mutation goes through methods.
type Registry struct {
	mu        sync.RWMutex
	channels  map[string]*Channel
	authority bool
	defaults  Defaults
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for registry events.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a channel registry. The authority flag selects the
// privileged semantics for access-check overrides and SetAccess.
func NewRegistry(authority bool, defaults Defaults, opts ...RegistryOption) *Registry {
	r := &Registry{
		channels:  make(map[string]*Channel),
		authority: authority,
		defaults:  defaults.normalized(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register creates the named channel or returns the existing one.
//
// Idempotent: an existing channel is returned unchanged, except that an
// access-check option is applied when the caller is privileged: the local
// authority always, a peer only when it is the recorded owner (the
// create-channel protocol path). New channels merge options over the
// registry defaults and record the caller as owner.
func (r *Registry) Register(name string, caller transport.Subject, opts ...Option) (Channel, error) {
	if name == "" {
		return Channel{}, ErrInvalidName
	}

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, exists := r.channels[name]; exists {
		if s.accessSet && r.mayReplaceAccess(ch, caller) {
			ch.accessCheck = s.access
			r.logger.Info("channel access check replaced",
				logger.Channel(name), logger.Subject(int64(caller)))
		}
		return *ch, nil
	}

	ch := &Channel{
		Name:            name,
		RateLimit:       r.defaults.RateLimit,
		Priority:        r.defaults.Priority,
		MaxPayloadSize:  r.defaults.MaxPayloadSize,
		BatchInterval:   r.defaults.BatchInterval,
		BatchingEnabled: true,
		Owner:           caller,
		filter:          s.filter,
		accessCheck:     s.access,
		subscribers:     make(map[transport.Subject]struct{}),
	}
	if s.rateLimit != nil {
		ch.RateLimit = *s.rateLimit
	}
	if s.priority != nil {
		ch.Priority = *s.priority
	}
	if s.maxPayloadSize != nil {
		ch.MaxPayloadSize = *s.maxPayloadSize
	}
	if s.batchInterval != nil {
		ch.BatchInterval = *s.batchInterval
	}
	if s.batching != nil {
		ch.BatchingEnabled = *s.batching
	}

	r.channels[name] = ch
	r.logger.Info("channel registered",
		logger.Channel(name),
		logger.Subject(int64(caller)),
		slog.Int("rate_limit", ch.RateLimit),
		slog.Int("priority", ch.Priority))

	return *ch, nil
}

// mayReplaceAccess holds the privileged re-registration rule. Caller must
// hold the lock.
func (r *Registry) mayReplaceAccess(ch *Channel, caller transport.Subject) bool {
	if r.authority && caller == transport.Authority {
		return true
	}
	return caller == ch.Owner
}

// Get returns a snapshot of the named channel.
func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[name]
	if !exists {
		return Channel{}, false
	}
	return *ch, true
}

// AddFilter installs the content filter on an existing channel. Only the
// owner may do so; the authority is exempt from the ownership check.
func (r *Registry) AddFilter(name string, caller transport.Subject, fn FilterFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		return ErrUnknownChannel
	}
	if !r.mayReplaceAccess(ch, caller) {
		return ErrNotOwner
	}

	ch.filter = fn
	return nil
}

// SetAccess installs the subscription predicate. An unknown channel is
// created on the fly when the authority is the caller; a peer gets
// ErrUnknownChannel. On a known channel only the owner (or the authority)
// may overwrite.
func (r *Registry) SetAccess(name string, caller transport.Subject, fn AccessFunc) error {
	if name == "" {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		if !r.authority || caller != transport.Authority {
			return ErrUnknownChannel
		}
		ch = &Channel{
			Name:            name,
			RateLimit:       r.defaults.RateLimit,
			Priority:        r.defaults.Priority,
			MaxPayloadSize:  r.defaults.MaxPayloadSize,
			BatchInterval:   r.defaults.BatchInterval,
			BatchingEnabled: true,
			Owner:           caller,
			accessCheck:     fn,
			subscribers:     make(map[transport.Subject]struct{}),
		}
		r.channels[name] = ch
		r.logger.Info("channel created by access check", logger.Channel(name))
		return nil
	}

	if !r.mayReplaceAccess(ch, caller) {
		return ErrNotOwner
	}

	ch.accessCheck = fn
	return nil
}

// SetMaxPayloadSize updates the channel's size budget.
func (r *Registry) SetMaxPayloadSize(name string, bytes int) error {
	if bytes < 0 {
		bytes = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		return ErrUnknownChannel
	}
	ch.MaxPayloadSize = bytes
	return nil
}

// ConfigureBatching updates the channel's batching flag and drain interval.
// A non-positive interval keeps the current one.
func (r *Registry) ConfigureBatching(name string, enabled bool, interval time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		return ErrUnknownChannel
	}

	ch.BatchingEnabled = enabled
	if interval > 0 {
		ch.BatchInterval = interval
	}
	return nil
}

// AddHandler appends a local delivery callback. Invocation order is
// registration order.
func (r *Registry) AddHandler(name string, fn HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		return ErrUnknownChannel
	}

	ch.handlers = append(ch.handlers, fn)
	return nil
}

// Handlers returns a snapshot of the channel's handler list.
func (r *Registry) Handlers(name string) []HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[name]
	if !exists || len(ch.handlers) == 0 {
		return nil
	}

	out := make([]HandlerFunc, len(ch.handlers))
	copy(out, ch.handlers)
	return out
}

// Authorize evaluates the channel's access predicate for one subscription
// attempt. A nil predicate grants. A panicking predicate denies, with the
// panic detail embedded in the reason; it never aborts the caller. On grant
// the subject joins the subscriber set; on deny nothing changes.
func (r *Registry) Authorize(name string, subject transport.Subject) (granted bool, reason string) {
	r.mu.RLock()
	ch, exists := r.channels[name]
	var check AccessFunc
	if exists {
		check = ch.accessCheck
	}
	r.mu.RUnlock()

	if !exists {
		return false, "unknown channel"
	}

	// Predicate runs outside the lock so it may re-enter the registry.
	granted, reason = r.evalAccess(check, subject)
	if !granted {
		r.logger.Info("subscription denied",
			logger.Channel(name),
			logger.Subject(int64(subject)),
			slog.String("reason", reason))
		return false, reason
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Channel may have vanished while the predicate ran.
	ch, exists = r.channels[name]
	if !exists {
		return false, "unknown channel"
	}
	ch.subscribers[subject] = struct{}{}
	return true, ""
}

func (r *Registry) evalAccess(check AccessFunc, subject transport.Subject) (granted bool, reason string) {
	if check == nil {
		return true, ""
	}

	defer func() {
		if rec := recover(); rec != nil {
			granted = false
			reason = fmt.Sprintf("access check failed: %v", rec)
		}
	}()

	if !check(subject) {
		return false, "access denied"
	}
	return true, ""
}

// ApplyFilter evaluates the channel's content filter for one inbound
// message. A nil predicate never blocks. A panicking predicate fails open:
// the message passes unmodified. A non-nil replacement supersedes the
// original payload downstream.
func (r *Registry) ApplyFilter(name string, subject transport.Subject, values []payload.Value) (blocked bool, reason string, replacement []payload.Value) {
	r.mu.RLock()
	ch, exists := r.channels[name]
	var filter FilterFunc
	if exists {
		filter = ch.filter
	}
	r.mu.RUnlock()

	if !exists || filter == nil {
		return false, "", nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			// Fail open: a broken filter must not drop traffic.
			r.logger.Error("message filter panicked",
				logger.Channel(name),
				logger.Subject(int64(subject)),
				slog.Any("panic", rec))
			blocked = false
			reason = ""
			replacement = nil
		}
	}()

	return filter(subject, values)
}

// Subscribers returns the channel's current subscriber set, excluding the
// given subject.
func (r *Registry) Subscribers(name string, exclude transport.Subject) []transport.Subject {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[name]
	if !exists {
		return nil
	}

	out := make([]transport.Subject, 0, len(ch.subscribers))
	for s := range ch.subscribers {
		if s != exclude {
			out = append(out, s)
		}
	}
	return out
}

// IsSubscribed reports whether the subject is in the channel's subscriber set.
func (r *Registry) IsSubscribed(name string, subject transport.Subject) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[name]
	if !exists {
		return false
	}
	_, ok := ch.subscribers[subject]
	return ok
}

// RemoveSubject purges a departed subject from every subscriber set and
// returns the number of channels it was removed from.
func (r *Registry) RemoveSubject(subject transport.Subject) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, ch := range r.channels {
		if _, ok := ch.subscribers[subject]; ok {
			delete(ch.subscribers, subject)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("subject purged from subscriber sets",
			logger.Subject(int64(subject)),
			logger.Count("channels", removed))
	}
	return removed
}

// MaxPayloadSize returns the channel's size budget.
func (r *Registry) MaxPayloadSize(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[name]
	if !exists {
		return 0, false
	}
	return ch.MaxPayloadSize, true
}

// MinBatchInterval returns the smallest positive batch interval across all
// registered channels, or zero when none is set.
func (r *Registry) MinBatchInterval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var minInterval time.Duration
	for _, ch := range r.channels {
		if ch.BatchInterval <= 0 {
			continue
		}
		if minInterval == 0 || ch.BatchInterval < minInterval {
			minInterval = ch.BatchInterval
		}
	}
	return minInterval
}

// Names returns all registered channel names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}
