package report

import (
	"errors"

	"smartkollect/internal/metadata"
)

// Definition errors. These come from builder calls that reference keys or
// indexes the UI never offered, so callers usually treat them as bugs.
var (
	ErrUnknownEntity     = metadata.ErrUnknownEntity
	ErrUnknownField      = metadata.ErrUnknownField
	ErrEntityNotSelected = errors.New("entity not selected")
	ErrIndexOutOfRange   = errors.New("index out of range")
)

// Reference resolution errors, reported as validation problems.
var (
	ErrFieldNotSelected = errors.New("field not selected")
	ErrAmbiguousField   = errors.New("ambiguous field")
	ErrTypeMismatch     = errors.New("type mismatch")
)
