// Package batch turns a stream of send requests into periodic, size-bounded,
// priority-ordered deliveries.
//
// Messages are queued per (channel, origin) pair; origin separates the
// authority's own outgoing batches from each peer's so priorities never
// cross-contaminate. On every tick each non-empty queue is drained:
//
//  1. Messages are sorted by priority descending. The sort is stable with
//     an insertion-order tie-break, so equal priorities dispatch in the
//     order they were enqueued.
//  2. If the combined estimated payload size fits the channel's budget, the
//     whole set goes out as one batch envelope.
//  3. Otherwise the scheduler falls back to per-message dispatch: messages
//     that individually fit are dispatched singly, oversized ones are
//     dropped and logged.
//
// A queue whose channel is no longer resolvable at tick time loses that
// tick's messages entirely; they were already drained and are not
// re-buffered. Once enqueued, a message is delivered or dropped at the next
// tick; there is no withdrawal.
//
// The tick interval is the configured rate (default ~60 Hz) lowered to the
// smallest registered per-channel batch interval at start time.
package batch
