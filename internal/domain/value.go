package domain

import "time"

// ValueKind is the discriminant of the Value union (spec §9 redesign note:
// replace ad hoc map[string]interface{} context/config with a typed union).
type ValueKind string

const (
	KindNull     ValueKind = "null"
	KindBool     ValueKind = "bool"
	KindInt      ValueKind = "int"
	KindLong     ValueKind = "long"
	KindDouble   ValueKind = "double"
	KindString   ValueKind = "string"
	KindDate     ValueKind = "date"
	KindDateTime ValueKind = "datetime"
	KindArray    ValueKind = "array"
	KindObject   ValueKind = "object"
)

// Value is a single typed variable value. Exactly one of the typed fields is
// meaningful, selected by Kind. Canonical string encoding (the form
// persisted by the Repository) is produced by internal/variables, which
// knows how to walk Array/Object via gjson/sjson; domain itself stays free
// of that dependency.
type Value struct {
	Kind   ValueKind
	Bool   bool
	Int    int64 // backs both Int and Long kinds
	Double float64
	Str    string
	Time   time.Time
	Array  []Value
	Object map[string]Value
}

// Null is the canonical null value.
var Null = Value{Kind: KindNull}

func NewBool(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func NewInt(i int64) Value   { return Value{Kind: KindInt, Int: i} }
func NewLong(i int64) Value  { return Value{Kind: KindLong, Int: i} }
func NewDouble(f float64) Value { return Value{Kind: KindDouble, Double: f} }
func NewString(s string) Value  { return Value{Kind: KindString, Str: s} }
func NewDate(t time.Time) Value     { return Value{Kind: KindDate, Time: t} }
func NewDateTime(t time.Time) Value { return Value{Kind: KindDateTime, Time: t} }
func NewArray(vs []Value) Value        { return Value{Kind: KindArray, Array: vs} }
func NewObject(m map[string]Value) Value { return Value{Kind: KindObject, Object: m} }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull || v.Kind == "" }

// AsBool returns the bool value, zero value if Kind != Bool.
func (v Value) AsBool() bool { return v.Bool }

// AsInt returns the integer value for Int/Long kinds.
func (v Value) AsInt() int64 { return v.Int }

// AsDouble returns the double value, converting from Int/Long if needed.
func (v Value) AsDouble() float64 {
	if v.Kind == KindInt || v.Kind == KindLong {
		return float64(v.Int)
	}
	return v.Double
}

// AsString returns the string value for String kinds (empty otherwise).
func (v Value) AsString() string { return v.Str }

// ValuesFromStringMap wraps a plain map[string]string as String Values,
// used for the Start() initial-context convenience entrypoint.
func ValuesFromStringMap(m map[string]string) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = NewString(v)
	}
	return out
}

// MergeValues returns a new map containing base overlaid with overrides;
// nil-safe. Used to merge step outputData into instance context.
func MergeValues(base, overrides map[string]Value) map[string]Value {
	out := make(map[string]Value, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// CloneValues returns a shallow copy of m, safe to hand to callers as a
// snapshot without exposing the instance's live context map.
func CloneValues(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
