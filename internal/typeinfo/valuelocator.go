// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Indirect follows pointers and interfaces until it reaches a concrete value.
// It returns the invalid Value if a nil is found on the way.
func Indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// Get reads the member from the struct value v. The invalid Value is returned
// when v is nil or when a nil embedded pointer is crossed.
func (m *Member) Get(v reflect.Value) (reflect.Value, error) {
	v = Indirect(v)
	if !v.IsValid() {
		return reflect.Value{}, nil
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("cannot get member %s of %s", m, v.Type())
	}
	if !m.getter {
		f, err := v.FieldByIndexErr(m.index)
		if err != nil {
			return reflect.Value{}, nil
		}
		return f, nil
	}
	if m.pointerReceiver {
		if !v.CanAddr() {
			p := reflect.New(v.Type())
			p.Elem().Set(v)
			v = p.Elem()
		}
		v = v.Addr()
	}
	return v.MethodByName(m.Name).Call(nil)[0], nil
}

// Set assigns val to the member of the addressable struct value v, allocating
// nil embedded pointers on the way.
func (m *Member) Set(v reflect.Value, val reflect.Value) error {
	if m.getter {
		return fmt.Errorf("cannot set method %s", m)
	}
	for i, x := range m.index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	if !v.CanSet() {
		return fmt.Errorf("internal error: cannot set field %s", m.Name)
	}
	v.Set(val)
	return nil
}

// Index evaluates an indexer on a slice, array or string-keyed map. The key
// of a map may be quoted with single or double quotes. Reading a missing map
// key or crossing a nil returns the invalid Value.
func Index(v reflect.Value, key string) (reflect.Value, error) {
	v = Indirect(v)
	if !v.IsValid() {
		return reflect.Value{}, nil
	}
	key = strings.TrimSpace(key)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("cannot index %s with %q", v.Type(), key)
		}
		if i < 0 || i >= v.Len() {
			return reflect.Value{}, fmt.Errorf("index %d out of range for %s of length %d", i, v.Type(), v.Len())
		}
		return v.Index(i), nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("cannot index %s: key type is not string", v.Type())
		}
		k := reflect.ValueOf(unquote(key)).Convert(v.Type().Key())
		e := v.MapIndex(k)
		if !e.IsValid() {
			return reflect.Value{}, nil
		}
		return e, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot index %s", v.Type())
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// IsEmpty reports whether v holds the zero value of its type. Nil and
// invalid values are empty.
func IsEmpty(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array:
		return v.Len() == 0
	}
	return v.IsZero()
}

// IsNilValue reports whether v is nil or holds a nil pointer, interface, map or
// slice.
func IsNilValue(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
