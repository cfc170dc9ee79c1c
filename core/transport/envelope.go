package transport

import "github.com/chanbus/chanbus/core/payload"

// batchMarker keys the envelope map that distinguishes a batch envelope from
// ordinary payloads.
const batchMarker = "batch"

// PackBatch wraps multiple logically independent payloads into a single
// batch envelope payload, preserving order.
func PackBatch(batch [][]payload.Value) []payload.Value {
	inner := make([]payload.Value, len(batch))
	for i, values := range batch {
		inner[i] = payload.ListOf(values...)
	}

	envelope := payload.MapOf(
		payload.Pair(payload.String(batchMarker), payload.ListOf(inner...)),
	)
	return []payload.Value{envelope}
}

// UnpackBatch reports whether the payload is a batch envelope and, if so,
// returns the inner payloads in envelope order.
func UnpackBatch(values []payload.Value) ([][]payload.Value, bool) {
	if len(values) != 1 {
		return nil, false
	}

	envelope := values[0]
	if envelope.Kind != payload.KindMap || len(envelope.Entries) != 1 {
		return nil, false
	}

	entry := envelope.Entries[0]
	if entry.Key.Kind != payload.KindString || entry.Key.Str != batchMarker {
		return nil, false
	}
	if entry.Val.Kind != payload.KindList {
		return nil, false
	}

	batch := make([][]payload.Value, len(entry.Val.List))
	for i, item := range entry.Val.List {
		if item.Kind != payload.KindList {
			return nil, false
		}
		batch[i] = item.List
	}
	return batch, true
}
