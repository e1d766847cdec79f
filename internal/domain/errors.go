package domain

import (
	"errors"
	"fmt"
)

// ErrMissingID is returned when an incident without an identifier reaches persistence.
var ErrMissingID = errors.New("incident id is required")

// FetchError reports a network, timeout, or non-2xx failure while retrieving a
// source payload. It aborts the cycle for that source only.
type FetchError struct {
	Source string
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SchemaError reports a payload that does not have the expected shape.
type SchemaError struct {
	Source string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s invalid payload: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s invalid payload: %s", e.Source, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ParseError describes a field that fell back to its default during normalization.
// It is informational and never fails a record.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("parse %s %q", e.Field, e.Value)
}

func (e ParseError) Unwrap() error { return e.Err }

// PersistError reports a failed write for a single incident.
type PersistError struct {
	Source     string
	IncidentID string
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s incident %q: %v", e.Source, e.IncidentID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
