// Package ratelimiter provides fixed-window rate limiting backed by an
// in-memory store.
//
// The store tracks one counting window per key. A window is created lazily
// on first use and reset whenever the configured window size has elapsed
// since its start. A call is denied, without incrementing the counter, once
// the count reaches the key's limit for the current window.
//
// # Core Operations
//
//   - Allow(ctx, key, limit): consume one call from the key's window
//   - Reset(ctx, key): drop a single window
//   - ResetMatching(ctx, match): drop every window whose key matches,
//     used to purge all state belonging to a departed subject
//
// # Lifecycle
//
// A background goroutine removes windows that have not been touched for a
// while, preventing unbounded growth from short-lived keys. Start it with
// Start (blocking), or Run for errgroup coordination, and stop it with Stop.
//
// Basic setup:
//
//	store := ratelimiter.NewMemoryStore(
//	    ratelimiter.WithWindow(10 * time.Second),
//	)
//	go store.Start(ctx)
//	defer store.Stop()
//
//	if store.Allow(ctx, "chat:42", 30) {
//	    // proceed
//	}
package ratelimiter
