// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"sync"
)

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type]*Info)

// GetTypeInfo returns the Info of a struct type, generating and caching it as
// required. Pointer types are dereferenced.
func GetTypeInfo(t reflect.Type) (*Info, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot reflect nil type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	cacheMutex.RLock()
	info, found := cache[t]
	cacheMutex.RUnlock()
	if found {
		return info, nil
	}

	info, err := generate(t)
	if err != nil {
		return nil, err
	}

	cacheMutex.Lock()
	cache[t] = info
	cacheMutex.Unlock()

	return info, nil
}

// generate produces the reflection information for a struct type.
func generate(t reflect.Type) (*Info, error) {
	// Reflection information is only generated for structs.
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("can only reflect struct type, got %s", t.Kind())
	}

	info := &Info{Type: t}
	columns := make(map[string]string)
	for _, field := range reflect.VisibleFields(t) {
		if !field.IsExported() || !reachable(t, field.Index) {
			continue
		}
		tag, err := parseTag(field)
		if err != nil {
			return nil, fmt.Errorf("field %q of struct %q: %w", field.Name, t.Name(), err)
		}
		if tag.ignore {
			continue
		}
		// The fields of embedded structs are promoted and listed
		// separately.
		if field.Anonymous && deref(field.Type).Kind() == reflect.Struct && tag.name == "" {
			continue
		}
		if tag.name != "" {
			if other, ok := columns[tag.name]; ok {
				return nil, fmt.Errorf("fields %q and %q of struct %q have the same db tag %q", other, field.Name, t.Name(), tag.name)
			}
			columns[tag.name] = field.Name
		}
		info.Fields = append(info.Fields, &Member{
			Name:      field.Name,
			Column:    tag.name,
			Type:      field.Type,
			OmitEmpty: tag.omitEmpty,
			OmitNil:   tag.omitNil,
			index:     field.Index,
		})
	}
	info.Getters = getters(t)
	return info, nil
}

// reachable reports whether a promoted field can be written. This is not the
// case when the path crosses an unexported embedded pointer, which cannot be
// allocated through reflection.
func reachable(t reflect.Type, index []int) bool {
	for i := 0; i < len(index)-1; i++ {
		f := t.Field(index[i])
		if f.Type.Kind() == reflect.Pointer {
			if !f.IsExported() {
				return false
			}
			t = f.Type.Elem()
			continue
		}
		t = f.Type
	}
	return true
}
