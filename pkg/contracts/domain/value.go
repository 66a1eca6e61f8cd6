package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind identifies the resolved type of a raw field value.
type ValueKind string

const (
	KindNull      ValueKind = "null"
	KindNumber    ValueKind = "number"
	KindText      ValueKind = "text"
	KindTimestamp ValueKind = "timestamp"
)

// Value is the tagged-union representation of a raw field. Untyped source
// fields are resolved into a Value exactly once, at validation time; every
// stage downstream of the Validator operates on typed values only.
type Value struct {
	Kind      ValueKind `json:"kind"`
	Number    float64   `json:"number,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NullValue returns the null Value.
func NullValue() Value {
	return Value{Kind: KindNull}
}

// NumberValue wraps a float64 as a Value.
func NumberValue(f float64) Value {
	return Value{Kind: KindNumber, Number: f}
}

// TextValue wraps a string as a Value.
func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// TimestampValue wraps a time.Time as a Value.
func TimestampValue(t time.Time) Value {
	return Value{Kind: KindTimestamp, Timestamp: t}
}

// IsNull reports whether the value carries no data.
func (v Value) IsNull() bool {
	return v.Kind == KindNull || v.Kind == ""
}

// AsNumber returns the numeric payload and whether the value is a number.
func (v Value) AsNumber() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Number, true
}

// AsText returns the text payload and whether the value is text.
func (v Value) AsText() (string, bool) {
	if v.Kind != KindText {
		return "", false
	}
	return v.Text, true
}

// AsTimestamp returns the temporal payload and whether the value is a timestamp.
func (v Value) AsTimestamp() (time.Time, bool) {
	if v.Kind != KindTimestamp {
		return time.Time{}, false
	}
	return v.Timestamp, true
}

// String renders the value for logs and violation messages.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindText:
		return v.Text
	case KindTimestamp:
		return v.Timestamp.Format(time.RFC3339)
	default:
		return "null"
	}
}

// MarshalJSON emits the payload without the empty union arms.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(map[string]interface{}{"kind": v.Kind, "number": v.Number})
	case KindText:
		return json.Marshal(map[string]interface{}{"kind": v.Kind, "text": v.Text})
	case KindTimestamp:
		return json.Marshal(map[string]interface{}{"kind": v.Kind, "timestamp": v.Timestamp})
	default:
		return json.Marshal(map[string]interface{}{"kind": KindNull})
	}
}
