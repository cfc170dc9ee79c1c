package payload

const (
	scalarCost  = 1 // nil and bool
	numericCost = 8
	refCost     = 8 // pointer-sized
)

// EstimateSize returns the approximate serialized byte cost of a single
// value. Composite values cost the sum of their entries, keys included.
//
// The traversal carries no visited set: a value made cyclic through slice
// aliasing recurses without bound.
func EstimateSize(v Value) int {
	switch v.Kind {
	case KindNil, KindBool:
		return scalarCost
	case KindInt, KindFloat:
		return numericCost
	case KindRef:
		return refCost
	case KindString:
		return len(v.Str)
	case KindList:
		size := 0
		for _, e := range v.List {
			size += EstimateSize(e)
		}
		return size
	case KindMap:
		size := 0
		for _, e := range v.Entries {
			size += EstimateSize(e.Key)
			size += EstimateSize(e.Val)
		}
		return size
	default:
		return 0
	}
}

// EstimateAll returns the combined estimated size of an ordered payload.
func EstimateAll(values []Value) int {
	size := 0
	for _, v := range values {
		size += EstimateSize(v)
	}
	return size
}

// CheckSizeLimit reports whether the payload fits within limit bytes and
// returns the estimated size. Pure, no side effects.
func CheckSizeLimit(values []Value, limit int) (bool, int) {
	size := EstimateAll(values)
	return size <= limit, size
}
