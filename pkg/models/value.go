package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind is the runtime type tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTimestamp
	KindNested
)

var kindNames = [...]string{"null", "boolean", "integer", "float", "string", "timestamp", "nested"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// StageTimeLayout is the textual form of timestamps in stage files.
const StageTimeLayout = "2006-01-02 15:04:05.999999"

// Value is a tagged scalar. Nested holds the JSON text of an object or array.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
}

func Null() Value                 { return Value{} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t.UTC()} }
func Nested(raw string) Value     { return Value{kind: KindNested, s: raw} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() bool           { return v.b }
func (v Value) Int() int64           { return v.i }
func (v Value) Float() float64       { return v.f }
func (v Value) Str() string          { return v.s }
func (v Value) Timestamp() time.Time { return v.t }

// Text returns the canonical textual form written into stage files. It is
// only meaningful for non-null values.
func (v Value) Text() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString, KindNested:
		return v.s
	case KindTimestamp:
		return v.t.Format(StageTimeLayout)
	default:
		return ""
	}
}

// Size estimates the encoded size of the value in bytes.
func (v Value) Size() int {
	switch v.kind {
	case KindNull:
		return 2
	case KindBool:
		return 5
	case KindInt, KindFloat:
		return 20
	case KindTimestamp:
		return len(StageTimeLayout)
	default:
		return len(v.s) + 2
	}
}

// Len is the character length that decides varchar sizing for string-like
// values.
func (v Value) Len() int {
	switch v.kind {
	case KindString, KindNested:
		return len(v.s)
	default:
		return len(v.Text())
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindTimestamp:
		return v.t.Equal(o.t)
	default:
		return v.s == o.s
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.Text()
}

// jsonNumber matches the number literal type produced by a decoder running
// with UseNumber.
type jsonNumber interface {
	String() string
	Int64() (int64, error)
	Float64() (float64, error)
}

// FromJSON converts a decoded JSON field into a Value. Integral numbers become
// KindInt, other numbers KindFloat, objects and arrays KindNested. Strings are
// never reinterpreted here; see AsTimestamp.
func FromJSON(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case jsonNumber:
		lit := x.String()
		if !strings.ContainsAny(lit, ".eE") {
			if i, err := x.Int64(); err == nil {
				return Int(i), nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", lit, err)
		}
		return Float(f), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Int(int64(x)), nil
		}
		return Float(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(x)
		if err != nil {
			return Null(), fmt.Errorf("encode nested value: %w", err)
		}
		return Nested(string(data)), nil
	default:
		return Null(), fmt.Errorf("unsupported JSON value of type %T", raw)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp layouts accepted for date-time fields.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// AsTimestamp converts a string value into a timestamp when it parses as one;
// any other value is returned unchanged.
func AsTimestamp(v Value) Value {
	if v.kind != KindString {
		return v
	}
	if t, ok := ParseTimestamp(v.s); ok {
		return Timestamp(t)
	}
	return v
}
