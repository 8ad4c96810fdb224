package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind represents the type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindStr
	KindBool
	KindArray
	KindObject // nested record (from json parsing)
)

// Value is a dynamically-typed field value in a record.
type Value struct {
	Kind   Kind
	Int    int64
	Float  float64
	Str    string
	Bool   bool
	Array  []Value
	Object *Record
}

// Null returns a null value.
func Null() Value {
	return Value{Kind: KindNull}
}

// IntVal creates an integer value.
func IntVal(v int64) Value {
	return Value{Kind: KindInt, Int: v}
}

// FloatVal creates a float value.
func FloatVal(v float64) Value {
	return Value{Kind: KindFloat, Float: v}
}

// StrVal creates a string value.
func StrVal(v string) Value {
	return Value{Kind: KindStr, Str: v}
}

// BoolVal creates a boolean value.
func BoolVal(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

// ArrayVal creates an array value.
func ArrayVal(vs []Value) Value {
	return Value{Kind: KindArray, Array: vs}
}

// ObjectVal creates a nested record value.
func ObjectVal(r *Record) Value {
	return Value{Kind: KindObject, Object: r}
}

// IsNull returns true if the value is null.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// AsFloat attempts to coerce to float64 for arithmetic and numeric
// comparison. Strings holding numbers coerce too: fields extracted from log
// text are strings until something asks a numeric question about them.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	case KindStr:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsBool coerces to boolean for logical operations. Null is false.
func (v Value) AsBool() (bool, bool) {
	switch v.Kind {
	case KindBool:
		return v.Bool, true
	case KindNull:
		return false, true
	default:
		return false, false
	}
}

// AsString returns the string representation.
func (v Value) AsString() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindStr:
		return v.Str
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, el := range v.Array {
			parts[i] = el.AsString()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindObject:
		return v.Object.String()
	default:
		return "?"
	}
}

// Equal reports structural equality, with int/float unified numerically.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		lf, lok := v.AsFloat()
		rf, rok := o.AsFloat()
		if lok && rok && (v.Kind == KindInt || v.Kind == KindFloat) && (o.Kind == KindInt || o.Kind == KindFloat) {
			return lf == rf
		}
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindStr:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.Object.equal(o.Object)
	}
	return false
}

// Record is one semi-structured unit of data flowing through a pipeline: the
// raw input line plus an ordered field-name-to-value mapping. Records are
// immutable once produced; every mutating operation constructs a new record.
type Record struct {
	Raw    string
	keys   []string
	fields map[string]Value
}

// New creates a record for a raw input line with no extracted fields.
func New(raw string) *Record {
	return &Record{Raw: raw}
}

// Get returns the value of a field, or null if the field is not present.
// Missing fields are not an error: log data is semi-structured.
func (r *Record) Get(name string) Value {
	if v, ok := r.fields[name]; ok {
		return v
	}
	return Null()
}

// Has reports whether the field is present.
func (r *Record) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.keys)
}

// Keys returns the field names in insertion order. The returned slice is a
// copy and may be retained by the caller.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// With returns a new record with the field set. An existing field keeps its
// position; a new field is appended. The receiver is unchanged.
func (r *Record) With(name string, v Value) *Record {
	next := r.clone(1)
	if _, ok := next.fields[name]; !ok {
		next.keys = append(next.keys, name)
	}
	next.fields[name] = v
	return next
}

// Project returns a new record holding only the named fields, in the order
// requested. Missing names are silently left out.
func (r *Record) Project(names []string) *Record {
	next := &Record{Raw: r.Raw, fields: make(map[string]Value, len(names))}
	for _, name := range names {
		if v, ok := r.fields[name]; ok {
			next.keys = append(next.keys, name)
			next.fields[name] = v
		}
	}
	return next
}

// Without returns a new record with the named fields removed, preserving the
// order of the remaining fields.
func (r *Record) Without(names []string) *Record {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	next := &Record{Raw: r.Raw, fields: make(map[string]Value, len(r.keys))}
	for _, k := range r.keys {
		if !drop[k] {
			next.keys = append(next.keys, k)
			next.fields[k] = r.fields[k]
		}
	}
	return next
}

func (r *Record) clone(extra int) *Record {
	next := &Record{
		Raw:    r.Raw,
		keys:   make([]string, len(r.keys), len(r.keys)+extra),
		fields: make(map[string]Value, len(r.keys)+extra),
	}
	copy(next.keys, r.keys)
	for k, v := range r.fields {
		next.fields[k] = v
	}
	return next
}

func (r *Record) equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k || !r.fields[k].Equal(o.fields[k]) {
			return false
		}
	}
	return true
}

// String returns a compact representation for debugging.
func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range r.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", k, r.fields[k].AsString())
	}
	sb.WriteString("}")
	return sb.String()
}
