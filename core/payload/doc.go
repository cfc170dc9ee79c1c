// Package payload models the variadic, dynamically-typed values carried by
// broker channels and estimates their serialized size.
//
// A payload is an ordered sequence of Value. Value is a tagged sum type
// covering primitives, strings, opaque references, and recursively nested
// lists and ordered maps, so a payload survives the wire codec without
// losing shape or ordering.
//
// # Size Estimation
//
// EstimateSize computes an approximate byte cost: booleans and nil count 1,
// numerics and references count 8 (pointer-sized), strings their byte
// length, and composites the sum of their entries (keys included).
//
// Known limitation: no cycle detection is performed. A payload made
// self-referential through slice aliasing recurses without bound. Callers
// own the guarantee that payloads are acyclic.
//
// # Wire Codec
//
// Values marshal to tagged JSON objects ({"k":"str","s":"hi"}), which keeps
// the int/float distinction and map entry order across the transport.
// References do not cross the wire; they marshal to a bare marker and
// unmarshal with a nil referent.
package payload
