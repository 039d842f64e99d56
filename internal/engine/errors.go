package engine

import (
	"errors"
	"fmt"

	"smartkollect/internal/report"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(what, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", what, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

// ProblemsError converts definition problems into the 422 envelope. The
// problem code becomes the rule and its path the field.
func ProblemsError(problems report.Problems) *AppError {
	details := make([]ErrorDetail, len(problems))
	for i, p := range problems {
		details[i] = ErrorDetail{Field: p.Path, Rule: p.Code, Message: p.Message}
	}
	return ValidationError(details)
}

// ExecKind classifies execution failures.
type ExecKind string

const (
	KindInvalidFilter   ExecKind = "INVALID_FILTER"
	KindUnsupportedJoin ExecKind = "UNSUPPORTED_JOIN"
	KindTimeout         ExecKind = "TIMEOUT"
	KindStoreError      ExecKind = "STORE_ERROR"
)

// ExecError is returned by executors for every failure after validation.
// No partial result accompanies it.
type ExecError struct {
	Kind    ExecKind
	Message string
	Err     error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Status is the HTTP status the kind maps to.
func (e *ExecError) Status() int {
	switch e.Kind {
	case KindInvalidFilter, KindUnsupportedJoin:
		return 400
	case KindTimeout:
		return 504
	default:
		return 502
	}
}

// AppError renders e for the HTTP envelope. Store errors hide driver text.
func (e *ExecError) AppError() *AppError {
	msg := e.Message
	if e.Kind == KindStoreError {
		msg = "The report could not be executed"
	}
	return &AppError{Code: string(e.Kind), Status: e.Status(), Message: msg}
}

func execErrorf(kind ExecKind, err error, format string, args ...any) *ExecError {
	return &ExecError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode returns the code recorded in run history for err: the exec
// kind, VALIDATION_FAILED for problems, or INTERNAL.
func ErrorCode(err error) string {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return string(execErr.Kind)
	}
	var problems report.Problems
	if errors.As(err, &problems) {
		return "VALIDATION_FAILED"
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL"
}

// AsAppError converts the errors a report request can produce into the
// HTTP envelope. It returns false for unexpected errors.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	var problems report.Problems
	if errors.As(err, &problems) {
		return ProblemsError(problems), true
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.AppError(), true
	}
	return nil, false
}
