// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package mapping

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/canonical/sqlaccess/internal/naming"
	"github.com/canonical/sqlaccess/internal/typeinfo"
)

var errorInterface = reflect.TypeOf((*error)(nil)).Elem()

// ConstructorParam is a formal parameter of a constructor.
type ConstructorParam struct {
	Name string
	// Column overrides the column name derived from Name.
	Column string
	Type   reflect.Type
}

// Constructor is a registered function that builds a result shape from
// column values. It returns the shape or a pointer to it, optionally
// followed by an error.
type Constructor struct {
	Params []ConstructorParam

	fn             reflect.Value
	returnsPointer bool
	returnsError   bool
}

// NewConstructor checks fn and names its parameters. A name may carry a
// column override after a colon, as in "Name:full_name". It returns the type
// of the shape built by fn.
func NewConstructor(fn any, names ...string) (reflect.Type, *Constructor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, nil, fmt.Errorf("need constructor function, got %T", fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, nil, fmt.Errorf("constructor cannot be variadic")
	}
	if t.NumIn() != len(names) {
		return nil, nil, fmt.Errorf("constructor has %d parameters, got %d names", t.NumIn(), len(names))
	}
	if t.NumOut() == 0 || t.NumOut() > 2 || (t.NumOut() == 2 && t.Out(1) != errorInterface) {
		return nil, nil, fmt.Errorf("constructor must return a value optionally followed by an error")
	}

	shape := t.Out(0)
	ctor := &Constructor{fn: v, returnsError: t.NumOut() == 2}
	if shape.Kind() == reflect.Pointer {
		shape = shape.Elem()
		ctor.returnsPointer = true
	}
	if !typeinfo.IsNested(shape) {
		return nil, nil, fmt.Errorf("constructor must return a struct or a pointer to a struct, got %s", t.Out(0))
	}

	seen := make(map[string]bool)
	for i, name := range names {
		param := ConstructorParam{Type: t.In(i)}
		param.Name, param.Column, _ = strings.Cut(name, ":")
		param.Name = strings.TrimSpace(param.Name)
		param.Column = strings.TrimSpace(param.Column)
		if param.Name == "" {
			return nil, nil, fmt.Errorf("constructor parameter %d has no name", i)
		}
		key := naming.Fold(param.Name)
		if seen[key] {
			return nil, nil, fmt.Errorf("constructor parameter %q named more than once", param.Name)
		}
		seen[key] = true
		ctor.Params = append(ctor.Params, param)
	}
	return shape, ctor, nil
}

// call invokes the constructor and returns the shape value.
func (c *Constructor) call(args []reflect.Value) (reflect.Value, error) {
	out := c.fn.Call(args)
	if c.returnsError && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	v := out[0]
	if c.returnsPointer {
		if v.IsNil() {
			return reflect.Zero(v.Type().Elem()), nil
		}
		v = v.Elem()
	}
	return v, nil
}

// Shape is the mapping configuration of a result type.
type Shape struct {
	Type reflect.Type
	// Naming is the convention declared for the type.
	Naming naming.Convention
	// Constructors are kept in registration order.
	Constructors []*Constructor
	// RequireConstructor removes the implicit zero value constructor. The
	// shape can then only be built by a registered constructor.
	RequireConstructor bool
}

// Registry holds the shapes registered with a factory.
type Registry struct {
	mu     sync.RWMutex
	shapes map[reflect.Type]*Shape
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{shapes: make(map[reflect.Type]*Shape)}
}

// Update applies fn to the shape of type t, creating it if needed.
func (r *Registry) Update(t reflect.Type, fn func(s *Shape) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shapes[t]
	if !ok {
		s = &Shape{Type: t}
	}
	// Work on a copy so that readers never see a partial update.
	updated := *s
	updated.Constructors = append([]*Constructor(nil), s.Constructors...)
	if err := fn(&updated); err != nil {
		return err
	}
	r.shapes[t] = &updated
	return nil
}

// Shape returns the configuration of type t. Types that were never
// registered get the default configuration.
func (r *Registry) Shape(t reflect.Type) *Shape {
	r.mu.RLock()
	s, ok := r.shapes[t]
	r.mu.RUnlock()
	if !ok {
		return &Shape{Type: t}
	}
	return s
}
