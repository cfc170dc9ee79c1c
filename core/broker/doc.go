// Package broker implements the channel delivery pipeline: a role-aware
// node composing the channel registry, the rate limiter, the batch
// scheduler, and a transport endpoint.
//
// One node per process. The authority node enforces rate limits, access
// control, and canonical channel ownership; peer nodes send and receive
// through it.
//
// # Send Path
//
// Send resolves the channel, consults the rate limiter (enforced on the
// authority, advisory on peers), checks the payload against the channel's
// size budget, then either enqueues into the batch scheduler or dispatches
// immediately when batching is disabled.
//
// # Inbound Path
//
// An inbound peer message is rate-limited, unpacked if it is a batch
// envelope, run through the channel's content filter, and fanned out: every
// local handler is invoked exactly once per logical message, asynchronously
// and isolated (a handler's panic or error is logged and never reaches the
// sender or the other handlers), and the message is re-broadcast to every
// subscriber except its sender, so no subject ever receives its own message
// back.
//
// # Failure Surface
//
// All failures surface as sentinel errors or log output; none terminate the
// calling flow. Once a message is enqueued there is no withdrawal: it is
// delivered or dropped at the next tick.
package broker
