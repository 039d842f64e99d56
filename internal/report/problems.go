package report

import "strings"

// Problem codes returned by ValidateForExecution.
const (
	CodeNameRequired         = "NAME_REQUIRED"
	CodeNoEntities           = "NO_ENTITIES"
	CodeNoFields             = "NO_FIELDS"
	CodeUnknownEntity        = "UNKNOWN_ENTITY"
	CodeEntityNotSelected    = "ENTITY_NOT_SELECTED"
	CodeUnknownField         = "UNKNOWN_FIELD"
	CodeFieldNotSelected     = "FIELD_NOT_SELECTED"
	CodeAmbiguousField       = "AMBIGUOUS_FIELD"
	CodeInvalidOperator      = "INVALID_OPERATOR"
	CodeValueRequired        = "VALUE_REQUIRED"
	CodeValue2Required       = "VALUE2_REQUIRED"
	CodeTypeMismatch         = "TYPE_MISMATCH"
	CodeInvalidSort          = "INVALID_SORT"
	CodeInvalidLimit         = "INVALID_LIMIT"
	CodeInvalidJoin          = "INVALID_JOIN"
	CodeInvalidAggregation   = "INVALID_AGGREGATION"
	CodeInvalidVisualization = "INVALID_VISUALIZATION"
)

// Problem is one user-facing validation message.
type Problem struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Problems is the accumulated result of validation. It implements error so
// it can travel through error returns; an empty list means valid.
type Problems []Problem

func (p Problems) Error() string {
	msgs := make([]string, len(p))
	for i, pr := range p {
		msgs[i] = pr.Message
	}
	return strings.Join(msgs, "; ")
}

// Err returns p as an error, or nil when there are no problems.
func (p Problems) Err() error {
	if len(p) == 0 {
		return nil
	}
	return p
}

// Has reports whether any problem carries the given code.
func (p Problems) Has(code string) bool {
	for _, pr := range p {
		if pr.Code == code {
			return true
		}
	}
	return false
}
