// Package apperr holds the error taxonomy shared by the schema and record services.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Field error codes. Kept stable: clients render messages by code.
const (
	CodeRequired        = "required"
	CodeTypeMismatch    = "type_mismatch"
	CodeEnumInvalid     = "enum_invalid"
	CodeUniqueViolation = "unique_violation"
	CodeRefNotFound     = "ref_not_found"
	CodeDuplicateItem   = "duplicate_item"
	CodeConstraint      = "constraint"
	CodeInvalid         = "invalid"
	CodeNotFound        = "not_found"
	CodeVersionConflict = "version_conflict"
	CodeInUse           = "in_use"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func Ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// ValidationError carries every field-level failure of a single submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether a failure for field was collected.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func Invalid(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

type DuplicateNameError struct {
	Kind string // table, column, enum, enum value, link table
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func Duplicate(kind, name string) *DuplicateNameError {
	return &DuplicateNameError{Kind: kind, Name: name}
}

type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func NotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// ConflictError means the operation is blocked by live dependents or a stale version.
type ConflictError struct {
	Kind   string
	Key    string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Kind, e.Key, e.Reason)
}

func Conflict(kind, key, reason string) *ConflictError {
	return &ConflictError{Kind: kind, Key: key, Reason: reason}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsDuplicate(err error) bool {
	var d *DuplicateNameError
	return errors.As(err, &d)
}

// AsValidation unwraps a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
