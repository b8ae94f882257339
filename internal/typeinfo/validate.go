// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
)

// Output is a destination for one result shape.
type Output struct {
	// Type is the shape type.
	Type reflect.Type
	// Value is the settable value or the map to fill.
	Value reflect.Value
}

// ValidateOutputs takes the output arguments of a query and checks that they
// are pointers or string-keyed maps that results can be written to.
func ValidateOutputs(args []any) ([]Output, error) {
	outputs := make([]Output, 0, len(args))
	for _, arg := range args {
		v := reflect.ValueOf(arg)
		if isInvalidNil(v) {
			return nil, fmt.Errorf("need map or pointer, got nil")
		}
		switch v.Kind() {
		case reflect.Map:
			if !IsStringMap(v.Type()) {
				return nil, fmt.Errorf("need map with string keys, got %s", v.Type())
			}
			outputs = append(outputs, Output{Type: v.Type(), Value: v})
		case reflect.Pointer:
			e := v.Elem()
			outputs = append(outputs, Output{Type: e.Type(), Value: e})
		default:
			return nil, fmt.Errorf("need map or pointer, got %s", v.Kind())
		}
	}
	return outputs, nil
}

// SliceOutput is a slice that receives one result shape per row.
type SliceOutput struct {
	// Type is the shape type.
	Type reflect.Type
	// Slice is the settable slice value.
	Slice reflect.Value
	// Pointers is true for slices of pointers to the shape.
	Pointers bool
}

// ValidateSliceOutputs checks that every argument is a pointer to a slice.
func ValidateSliceOutputs(args []any) ([]SliceOutput, error) {
	outputs := make([]SliceOutput, 0, len(args))
	for _, arg := range args {
		v := reflect.ValueOf(arg)
		if isInvalidNil(v) {
			return nil, fmt.Errorf("need pointer to slice, got nil")
		}
		if v.Kind() != reflect.Pointer {
			return nil, fmt.Errorf("need pointer to slice, got %s", v.Kind())
		}
		s := v.Elem()
		if s.Kind() != reflect.Slice {
			return nil, fmt.Errorf("need pointer to slice, got pointer to %s", s.Kind())
		}
		elem := s.Type().Elem()
		out := SliceOutput{Type: elem, Slice: s}
		if elem.Kind() == reflect.Pointer {
			out.Type = elem.Elem()
			out.Pointers = true
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func isInvalidNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Pointer, reflect.Map:
		return v.IsNil()
	}
	return false
}
