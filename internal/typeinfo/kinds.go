// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"database/sql"
	"database/sql/driver"
	"reflect"
	"time"
)

var (
	scannerInterface = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	valuerInterface  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType         = reflect.TypeOf(time.Time{})
)

// implementsDriver reports whether t or *t is a driver.Valuer or a
// sql.Scanner.
func implementsDriver(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	return t.Implements(valuerInterface) || pt.Implements(valuerInterface) || pt.Implements(scannerInterface)
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Deref returns the type t points to through any number of pointers, and
// the number of pointers.
func Deref(t reflect.Type) (reflect.Type, int) {
	n := 0
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
		n++
	}
	return t, n
}

// IsMultiple reports whether values of type t are bound as a list of values.
// This is the case for slices and arrays, except for byte slices and types
// that know how to convert themselves to a driver value.
func IsMultiple(t reflect.Type) bool {
	if t == nil {
		return false
	}
	t = deref(t)
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
	default:
		return false
	}
	if t.Elem().Kind() == reflect.Uint8 {
		return false
	}
	return !implementsDriver(t)
}

// IsNested reports whether t is a structured type whose members can be
// addressed by a path.
func IsNested(t reflect.Type) bool {
	if t == nil {
		return false
	}
	t = deref(t)
	return t.Kind() == reflect.Struct && t != timeType && !implementsDriver(t)
}

// IsStringMap reports whether t is a map with string keys.
func IsStringMap(t reflect.Type) bool {
	if t == nil {
		return false
	}
	t = deref(t)
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String
}

// IsScalar reports whether a result shape of type t is read from a single
// column.
func IsScalar(t reflect.Type) bool {
	return !IsNested(t) && !IsStringMap(t)
}
