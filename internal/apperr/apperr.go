// Package apperr - типизированные ошибки слоя определений.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	Validation    Kind = "validation_error"
	NotFound      Kind = "not_found"
	Conflict      Kind = "conflict"
	EngineFailure Kind = "engine_failure"
	Internal      Kind = "internal"
)

// FieldError - ошибка по конкретному полю формы.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок по полям
const (
	CodeRequired      = "required"
	CodeInvalid       = "invalid"
	CodeInvalidJSON   = "invalid_json"
	CodeInvalidSchema = "invalid_schema"
	CodeDuplicate     = "duplicate"
	CodeTooShort      = "too_short"
	CodeTooLong       = "too_long"
	CodeCharset       = "charset"
	CodeUnknownType   = "unknown_type"
)

type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		b.WriteString(" (" + strings.Join(parts, "; ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает по Kind: errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels для errors.Is
var (
	ErrValidation    = &Error{Kind: Validation}
	ErrNotFound      = &Error{Kind: NotFound}
	ErrConflict      = &Error{Kind: Conflict}
	ErrEngineFailure = &Error{Kind: EngineFailure}
)

func NewValidation(fields ...FieldError) *Error {
	return &Error{Kind: Validation, Message: "validation failed", Fields: fields}
}

func NewNotFound(resource, id string) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

func NewConflict(format string, args ...any) *Error {
	return &Error{Kind: Conflict, Message: fmt.Sprintf(format, args...)}
}

func NewEngineFailure(err error) *Error {
	return &Error{Kind: EngineFailure, Message: "generation engine failure", Err: err}
}

func Field(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// KindOf возвращает Kind ошибки; для чужих ошибок - Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// FieldsOf достаёт список ошибок по полям (если есть).
func FieldsOf(err error) []FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
