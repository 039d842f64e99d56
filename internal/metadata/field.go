package metadata

import "fmt"

// FieldType is the closed set of column types a report field may declare.
type FieldType string

const (
	TypeText       FieldType = "text"
	TypeCurrency   FieldType = "currency"
	TypeDate       FieldType = "date"
	TypeDateTime   FieldType = "datetime"
	TypeBoolean    FieldType = "boolean"
	TypePercentage FieldType = "percentage"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeText, TypeCurrency, TypeDate, TypeDateTime, TypeBoolean, TypePercentage:
		return true
	}
	return false
}

// IsNumeric is true for types that sum and average.
func (t FieldType) IsNumeric() bool {
	return t == TypeCurrency || t == TypePercentage
}

// IsTemporal is true for date and datetime.
func (t FieldType) IsTemporal() bool {
	return t == TypeDate || t == TypeDateTime
}

// Ordered is true for types that support greater_than / less_than / between.
func (t FieldType) Ordered() bool {
	return t.IsNumeric() || t.IsTemporal() || t == TypeText
}

type FieldDescriptor struct {
	Key      string    `json:"key" yaml:"key"`
	Label    string    `json:"label" yaml:"label"`
	Type     FieldType `json:"type" yaml:"type"`
	Category string    `json:"category" yaml:"category"`
}

func (f FieldDescriptor) validate(entity string) error {
	if f.Key == "" {
		return fmt.Errorf("entity %s: field with empty key", entity)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("entity %s: field %s has unknown type %q", entity, f.Key, f.Type)
	}
	return nil
}
