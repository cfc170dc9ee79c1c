// Package async provides lightweight error futures for fire-and-forget and
// request/response work.
//
// Exec runs a function in its own goroutine and returns an ExecFuture that
// can be awaited, polled, or awaited with a timeout. Panics inside the
// function are captured and surfaced as errors wrapping ErrPanicked, so a
// misbehaving callback can never take down its caller.
//
// Example:
//
//	f := async.Exec(ctx, req, func(ctx context.Context, r Request) error {
//	    return send(ctx, r)
//	})
//	if err := f.AwaitWithTimeout(5 * time.Second); err != nil {
//	    log.Error("request failed", "error", err)
//	}
package async
