package payload

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindRef
	KindList
	KindMap
)

// Value is a tagged payload value. Exactly one of the variant fields is
// meaningful, selected by Kind.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Ref     any // opaque reference; never serialized
	List    []Value
	Entries []Entry
}

// Entry is one ordered key/value pair of a map value.
type Entry struct {
	Key Value
	Val Value
}

// Nil returns the nil value.
func Nil() Value { return Value{Kind: KindNil} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// String wraps a string.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Ref wraps an opaque reference such as a host object or function. It is
// sized like a pointer and dropped by the wire codec.
func Ref(v any) Value { return Value{Kind: KindRef, Ref: v} }

// ListOf builds a list value from the given elements.
func ListOf(elems ...Value) Value { return Value{Kind: KindList, List: elems} }

// MapOf builds an ordered map value from the given entries.
func MapOf(entries ...Entry) Value { return Value{Kind: KindMap, Entries: entries} }

// Pair builds one map entry.
func Pair(key, val Value) Entry { return Entry{Key: key, Val: val} }

const (
	tagNil    = "nil"
	tagBool   = "bool"
	tagInt    = "int"
	tagFloat  = "float"
	tagString = "str"
	tagRef    = "ref"
	tagList   = "list"
	tagMap    = "map"
)

type wireValue struct {
	K string      `json:"k"`
	B *bool       `json:"b,omitempty"`
	I *int64      `json:"i,omitempty"`
	F *float64    `json:"f,omitempty"`
	S *string     `json:"s,omitempty"`
	L []Value     `json:"l,omitempty"`
	M []wireEntry `json:"m,omitempty"`
}

type wireEntry struct {
	Key Value `json:"key"`
	Val Value `json:"val"`
}

// MarshalJSON encodes the value as a tagged object.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{}
	switch v.Kind {
	case KindNil:
		w.K = tagNil
	case KindBool:
		w.K = tagBool
		w.B = &v.Bool
	case KindInt:
		w.K = tagInt
		w.I = &v.Int
	case KindFloat:
		w.K = tagFloat
		w.F = &v.Float
	case KindString:
		w.K = tagString
		w.S = &v.Str
	case KindRef:
		// References are host-local; only the marker crosses the wire.
		w.K = tagRef
	case KindList:
		w.K = tagList
		w.L = v.List
		if w.L == nil {
			w.L = []Value{}
		}
	case KindMap:
		w.K = tagMap
		w.M = make([]wireEntry, len(v.Entries))
		for i, e := range v.Entries {
			w.M[i] = wireEntry{Key: e.Key, Val: e.Val}
		}
	default:
		return nil, fmt.Errorf("payload: unknown kind %d", v.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a tagged object produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("payload: decode value: %w", err)
	}

	switch w.K {
	case tagNil:
		*v = Nil()
	case tagBool:
		if w.B == nil {
			return fmt.Errorf("payload: bool value missing field")
		}
		*v = Bool(*w.B)
	case tagInt:
		if w.I == nil {
			return fmt.Errorf("payload: int value missing field")
		}
		*v = Int(*w.I)
	case tagFloat:
		if w.F == nil {
			return fmt.Errorf("payload: float value missing field")
		}
		*v = Float(*w.F)
	case tagString:
		if w.S == nil {
			return fmt.Errorf("payload: string value missing field")
		}
		*v = String(*w.S)
	case tagRef:
		*v = Ref(nil)
	case tagList:
		*v = Value{Kind: KindList, List: w.L}
		if v.List == nil {
			v.List = []Value{}
		}
	case tagMap:
		entries := make([]Entry, len(w.M))
		for i, e := range w.M {
			entries[i] = Entry{Key: e.Key, Val: e.Val}
		}
		*v = Value{Kind: KindMap, Entries: entries}
	default:
		return fmt.Errorf("payload: unknown kind tag %q", w.K)
	}
	return nil
}
