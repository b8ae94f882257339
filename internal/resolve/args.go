// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package resolve

import (
	"fmt"
	"reflect"
)

// Arguments checks the call arguments against the bindable parameters and
// returns their reflected values. Out and InOut parameters need a non-nil
// pointer to the declared type. A nil In argument binds NULL.
func Arguments(params []Param, args []any) ([]reflect.Value, error) {
	var bindable []Param
	for _, p := range params {
		if !p.Special {
			bindable = append(bindable, p)
		}
	}
	if len(args) != len(bindable) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(bindable), len(args))
	}

	values := make([]reflect.Value, len(args))
	for i, arg := range args {
		p := bindable[i]
		v := reflect.ValueOf(arg)
		if p.Direction != In {
			if v.Kind() != reflect.Pointer || v.IsNil() || !v.Type().Elem().AssignableTo(p.Type) {
				return nil, fmt.Errorf("argument %q: need non-nil pointer to %s, got %T", p.Name, p.Type, arg)
			}
			values[i] = v
			continue
		}
		if !v.IsValid() {
			values[i] = v
			continue
		}
		t := v.Type()
		for !t.AssignableTo(p.Type) && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if !t.AssignableTo(p.Type) {
			return nil, fmt.Errorf("argument %q: need %s, got %T", p.Name, p.Type, arg)
		}
		values[i] = v
	}
	return values, nil
}
