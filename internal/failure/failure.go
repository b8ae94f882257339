// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package failure holds the error types shared by the accessor compilation
// pipeline. They are re-exported by the root package.
package failure

import (
	"fmt"
	"reflect"
)

// TokenizeError is returned when template text cannot be lexed, for example
// because a quote or a comment is never closed.
type TokenizeError struct {
	// Offset is the byte offset in the template where the offending
	// construct starts.
	Offset int
	Line   int
	Column int
	Msg    string
}

func (e *TokenizeError) Error() string {
	if e.Line > 1 {
		return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("column %d: %s", e.Column, e.Msg)
}

// TemplateError reports a structurally invalid template: unbalanced code
// fragments, conditions that do not compile or unknown helpers.
type TemplateError struct {
	Operation string
	Msg       string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("operation %q: %s", e.Operation, e.Msg)
}

// ResolutionError reports a bind point that cannot be resolved against the
// formal parameters of an operation.
type ResolutionError struct {
	Operation string
	BindName  string
	Msg       string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("operation %q: bind %q: %s", e.Operation, e.BindName, e.Msg)
}

// MappingError reports a result shape that cannot be materialized from the
// columns of a result set.
type MappingError struct {
	Type reflect.Type
	Msg  string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot map type %s: %s", typeName(e.Type), e.Msg)
}

// ConversionError is returned when the value of a matched column cannot be
// converted to its target member. It is fatal to the call only.
type ConversionError struct {
	Column string
	Member string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert column %q to %s: %s", e.Column, e.Member, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
