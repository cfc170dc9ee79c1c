// Package channel owns the table of channel configurations, subscriber sets,
// and handler lists, and evaluates the per-channel access and filter
// predicates.
//
// A channel is a named, independently configured topic. Its name is unique
// across the registry and its owner is set once at creation; later Register
// calls return the existing channel untouched, except that a privileged
// caller (the authority locally, or the recorded owner through the
// create-channel protocol) may replace the access predicate.
//
// # Predicate Failure Policy
//
// The two user-supplied predicates fail in opposite directions, both by
// design:
//
//   - Access checks fail closed: a panicking predicate denies the
//     subscription, with the panic detail embedded in the reason.
//   - Message filters fail open: a panicking predicate neither blocks the
//     message nor rewrites it.
//
// Neither failure ever aborts the caller.
//
// All registry state is guarded by one mutex; user predicates are invoked
// outside it, so they may safely re-enter the registry.
package channel
