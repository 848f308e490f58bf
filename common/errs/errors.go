// Package errs defines the error taxonomy shared by the staging and commit
// paths. Callers match with errors.As; the bulk orchestrator relies on
// IsConflict to separate conflict-class failures from ordinary ones.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input (unresolvable virtual ID, unknown
// role-type code, bad payload). It is raised before any write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports optimistic-concurrency failure: the entity moved (or
// vanished) between proposal and commit. Expected/Current/Proposed are kept
// so the UI can render a three-way diff.
type ConflictError struct {
	Field    string `json:"field"`
	Expected any    `json:"expected"`
	Current  any    `json:"current"`
	Proposed any    `json:"proposed"`
	Msg      string `json:"message"`
}

func (e *ConflictError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("conflict on %s: expected %v, current %v", e.Field, e.Expected, e.Current)
}

// NoOpError signals a field-change where old equals new under normalized
// comparison. It is absorbed by staging calls into a "no changes" response
// and never surfaces to users.
type NoOpError struct {
	FieldName string
}

func (e *NoOpError) Error() string {
	return fmt.Sprintf("no-op change for field %s", e.FieldName)
}

// NotFoundError reports a missing entity or changeset.
type NotFoundError struct {
	Kind string
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsConflict reports whether err is conflict-class (version mismatch or
// concurrent deletion).
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNoOp reports whether err is a NoOpError.
func IsNoOp(err error) bool {
	var ne *NoOpError
	return errors.As(err, &ne)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
