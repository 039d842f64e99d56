package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"smartkollect/internal/metadata"
)

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	KindText    ValueKind = "text"
	KindNumber  ValueKind = "number"
	KindBoolean ValueKind = "boolean"
	KindDate    ValueKind = "date"
)

// Value is a filter operand. The zero Value means "not set".
//
// Operands arrive loosely typed (a text box in the UI, a JSON string on the
// wire) and are only pinned to the field's declared type by Resolve.
type Value struct {
	Kind   ValueKind
	Text   string
	Number float64
	Bool   bool
	Date   time.Time
}

func Text(s string) Value    { return Value{Kind: KindText, Text: s} }
func Number(f float64) Value { return Value{Kind: KindNumber, Number: f} }
func Bool(b bool) Value      { return Value{Kind: KindBoolean, Bool: b} }
func Date(t time.Time) Value { return Value{Kind: KindDate, Date: t} }
func (v Value) IsZero() bool { return v.Kind == "" }
func (v Value) Ptr() *Value  { return &v }

// String renders the value the way it would be typed into a filter box.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		if isMidnightUTC(v.Date) {
			return v.Date.Format(time.DateOnly)
		}
		return v.Date.Format(time.RFC3339)
	}
	return ""
}

// Native returns the Go scalar carried by the value.
func (v Value) Native() any {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return v.Number
	case KindBoolean:
		return v.Bool
	case KindDate:
		return v.Date
	}
	return nil
}

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04",
	time.DateTime,
}

// Resolve pins v to the given field type. Text operands are parsed when the
// field is numeric, temporal or boolean; anything else that does not fit
// fails with ErrTypeMismatch.
func Resolve(v Value, t metadata.FieldType) (Value, error) {
	if v.IsZero() {
		return v, fmt.Errorf("%w: value is not set", ErrTypeMismatch)
	}
	switch {
	case t == metadata.TypeText:
		return Text(v.String()), nil

	case t.IsNumeric():
		switch v.Kind {
		case KindNumber:
			return v, nil
		case KindText:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
			if err != nil {
				return v, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, v.Text)
			}
			return Number(f), nil
		}

	case t.IsTemporal():
		switch v.Kind {
		case KindDate:
			return v, nil
		case KindText:
			s := strings.TrimSpace(v.Text)
			for _, layout := range dateLayouts {
				if d, err := time.Parse(layout, s); err == nil {
					return Date(d), nil
				}
			}
			return v, fmt.Errorf("%w: %q is not a date", ErrTypeMismatch, v.Text)
		}

	case t == metadata.TypeBoolean:
		switch v.Kind {
		case KindBoolean:
			return v, nil
		case KindText:
			b, err := strconv.ParseBool(strings.TrimSpace(v.Text))
			if err != nil {
				return v, fmt.Errorf("%w: %q is not true or false", ErrTypeMismatch, v.Text)
			}
			return Bool(b), nil
		}
	}
	return v, fmt.Errorf("%w: %s value for %s field", ErrTypeMismatch, v.Kind, t)
}

// SplitList splits a comma-separated operand for in / not_in. Non-text
// values form a single-element list.
func SplitList(v Value) []Value {
	if v.Kind != KindText {
		if v.IsZero() {
			return nil
		}
		return []Value{v}
	}
	var out []Value
	for _, part := range strings.Split(v.Text, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, Text(part))
		}
	}
	return out
}

func isMidnightUTC(t time.Time) bool {
	return t.Location() == time.UTC && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Number)
	case KindBoolean:
		return json.Marshal(v.Bool)
	case "":
		return []byte("null"), nil
	default:
		return json.Marshal(v.String())
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return v.fromRaw(raw)
}

func (v Value) MarshalYAML() (any, error) {
	switch v.Kind {
	case KindNumber:
		return v.Number, nil
	case KindBoolean:
		return v.Bool, nil
	case "":
		return nil, nil
	default:
		return v.String(), nil
	}
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return v.fromRaw(raw)
}

func (v *Value) fromRaw(raw any) error {
	switch x := raw.(type) {
	case nil:
		*v = Value{}
	case string:
		*v = Text(x)
	case float64:
		*v = Number(x)
	case int:
		*v = Number(float64(x))
	case bool:
		*v = Bool(x)
	case time.Time:
		*v = Date(x)
	default:
		return fmt.Errorf("unsupported filter value %v (%T)", raw, raw)
	}
	return nil
}
