package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// window represents one fixed counting window.
type window struct {
	count       int
	windowStart time.Time
	lastAccess  time.Time // Used by cleanup to identify stale windows
}

// DefaultWindow is the rolling window width used when none is configured.
const DefaultWindow = 10 * time.Second

// MemoryStore tracks per-key call counts in fixed rolling windows.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]*window

	// Configuration
	window          time.Duration
	cleanupInterval time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Observability metrics
	windowsCreated atomic.Int64
	windowsRemoved atomic.Int64
	denied         atomic.Int64
}

// MemoryStoreStats provides observability metrics for monitoring and debugging.
type MemoryStoreStats struct {
	WindowsCreated int64 // Total number of windows created
	WindowsRemoved int64 // Total number of windows removed (cleanup and resets)
	Denied         int64 // Total number of denied calls
	ActiveWindows  int   // Current number of active windows
	IsRunning      bool  // Whether the cleanup goroutine is running
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithWindow sets the rolling window width. Default is 10 seconds.
func WithWindow(d time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if d > 0 {
			ms.window = d
		}
	}
}

// WithCleanupInterval sets the cleanup interval for removing stale windows.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.cleanupInterval = interval
	}
}

// WithMemoryStoreShutdownTimeout sets the graceful shutdown timeout.
func WithMemoryStoreShutdownTimeout(timeout time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if timeout > 0 {
			ms.shutdownTimeout = timeout
		}
	}
}

// WithMemoryStoreLogger sets the logger for internal operations.
func WithMemoryStoreLogger(logger *slog.Logger) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if logger != nil {
			ms.logger = logger
		}
	}
}

// NewMemoryStore creates a new in-memory store.
// Call Start() to begin background cleanup.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		windows:         make(map[string]*window),
		window:          DefaultWindow,
		cleanupInterval: 5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(ms)
	}

	return ms
}

// Allow consumes one call from the key's current window. It reports false,
// without incrementing the counter, once the window's count has reached
// limit. A limit of zero or less denies every call.
func (ms *MemoryStore) Allow(ctx context.Context, key string, limit int) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	w, exists := ms.windows[key]

	if !exists {
		w = &window{windowStart: now}
		ms.windows[key] = w
		ms.windowsCreated.Add(1)
	}

	if now.Sub(w.windowStart) >= ms.window {
		w.count = 0
		w.windowStart = now
	}
	w.lastAccess = now

	if w.count >= limit {
		ms.denied.Add(1)
		return false
	}

	w.count++
	return true
}

// Reset drops the window for a single key.
func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.windows[key]; exists {
		delete(ms.windows, key)
		ms.windowsRemoved.Add(1)
	}
	return nil
}

// ResetMatching drops every window whose key satisfies match and returns the
// number of windows removed. Used to purge all state for a departed subject.
func (ms *MemoryStore) ResetMatching(ctx context.Context, match func(key string) bool) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	removed := 0
	for key := range ms.windows {
		if match(key) {
			delete(ms.windows, key)
			removed++
		}
	}

	if removed > 0 {
		ms.windowsRemoved.Add(int64(removed))
	}
	return removed
}

// Start begins the background cleanup goroutine. This is a blocking operation
// that runs until the context is cancelled. Use Run() for errgroup pattern or
// call this in a goroutine.
func (ms *MemoryStore) Start(ctx context.Context) error {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return ErrAlreadyStarted
	}

	if ms.cleanupInterval <= 0 {
		ms.mu.Unlock()
		return fmt.Errorf("%w, got %v (use WithCleanupInterval to configure)", ErrCleanupDisabled, ms.cleanupInterval)
	}

	ms.ctx, ms.cancel = context.WithCancel(ctx)
	ms.mu.Unlock()

	ms.running.Store(true)
	defer ms.running.Store(false)

	ms.logger.InfoContext(ms.ctx, "rate limit store cleanup started",
		slog.Duration("cleanup_interval", ms.cleanupInterval),
		slog.Duration("window", ms.window))

	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ms.ctx.Done():
			ms.logger.Info("rate limit store cleanup stopping")
			return ms.ctx.Err()
		case <-ticker.C:
			ms.cleanupWithWait()
		}
	}
}

// Stop gracefully shuts down the background cleanup with a timeout.
// Returns an error if the shutdown timeout is exceeded.
func (ms *MemoryStore) Stop() error {
	ms.mu.Lock()
	if ms.cancel == nil {
		ms.mu.Unlock()
		return ErrNotStarted
	}

	cancel := ms.cancel
	ms.cancel = nil
	ms.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), ms.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		ms.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ms.logger.Info("rate limit store stopped cleanly")
		return nil
	case <-ctx.Done():
		ms.logger.Warn("rate limit store shutdown timeout exceeded",
			slog.Duration("timeout", ms.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", ms.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the cleanup, monitors context cancellation,
// and performs graceful shutdown when the context is cancelled.
func (ms *MemoryStore) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- ms.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = ms.Stop() // Ignore stop error in normal shutdown
			<-errCh       // Wait for Start() to exit
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// cleanupWithWait is a wrapper around removeStale that tracks the operation with WaitGroup.
func (ms *MemoryStore) cleanupWithWait() {
	ms.mu.RLock()
	if ms.cancel == nil {
		ms.mu.RUnlock()
		return
	}
	ms.wg.Add(1)
	ms.mu.RUnlock()

	defer ms.wg.Done()
	ms.removeStale()
}

// removeStale removes windows that have not been touched recently.
// A window is stale once a full cleanup interval plus the window width has
// passed since its last access; anything older cannot affect a future Allow.
func (ms *MemoryStore) removeStale() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	staleThreshold := ms.cleanupInterval + ms.window

	removed := 0
	for key, w := range ms.windows {
		if now.Sub(w.lastAccess) > staleThreshold {
			delete(ms.windows, key)
			removed++
		}
	}

	if removed > 0 {
		ms.windowsRemoved.Add(int64(removed))
		ms.logger.Debug("removed stale rate limit windows", slog.Int("removed", removed))
	}
}

// Stats returns current store statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (ms *MemoryStore) Stats() MemoryStoreStats {
	ms.mu.RLock()
	isRunning := ms.cancel != nil
	activeWindows := len(ms.windows)
	ms.mu.RUnlock()

	return MemoryStoreStats{
		WindowsCreated: ms.windowsCreated.Load(),
		WindowsRemoved: ms.windowsRemoved.Load(),
		Denied:         ms.denied.Load(),
		ActiveWindows:  activeWindows,
		IsRunning:      isRunning,
	}
}

// Healthcheck validates that the store is operational.
// Returns nil if healthy, or an error describing the health issue.
func (ms *MemoryStore) Healthcheck(ctx context.Context) error {
	stats := ms.Stats()

	if ms.cleanupInterval > 0 && !stats.IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrNotStarted)
	}

	return nil
}
