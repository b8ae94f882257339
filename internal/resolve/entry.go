// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package resolve

import (
	"fmt"
	"reflect"

	"github.com/canonical/sqlaccess/internal/typeinfo"
)

// Direction is the direction in which a bound value travels.
type Direction int

const (
	In Direction = iota
	Out
	InOut
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	}
	return "unknown"
}

// Param is a formal parameter of an operation.
type Param struct {
	Name string
	// Type is the declared type. For Out and InOut parameters the argument
	// is a pointer to Type.
	Type      reflect.Type
	Direction Direction
	// Special parameters such as contexts and transactions are never bind
	// sources and take no call argument.
	Special   bool
	OmitEmpty bool
	OmitNil   bool
}

// Call holds the per-call inputs values are located in.
type Call struct {
	// Args holds one value per non-special parameter. A nil argument is
	// the invalid Value.
	Args []reflect.Value
	// Lookup supplies values for dynamic parameters.
	Lookup map[string]any
}

// Source locates the value of a bind point in a call.
type Source interface {
	// Value returns the located value. The invalid Value stands for NULL.
	Value(call *Call) (reflect.Value, error)
	// Omit reports whether a scalar bind of v renders as NULL.
	Omit(v reflect.Value) bool
}

// step is one precomputed access on the way from an argument to a bound
// value: a member or an indexer.
type step struct {
	member *typeinfo.Member
	index  string
}

// ParameterEntry is a bind name resolved against the formal parameters.
type ParameterEntry struct {
	// Index is the assignment order of the entry among all distinct bind
	// names. Entries resolved for raw substitution only have index -1.
	Index    int
	BindName string
	// Path is the source path rooted at the formal parameter.
	Path      []Segment
	Type      reflect.Type
	Direction Direction
	Multiple  bool
	// ArgPosition is the position of the call argument holding the root
	// of the path.
	ArgPosition int
	// OwnerType and MemberName identify the last member accessed. They are
	// empty for direct bindings.
	OwnerType  reflect.Type
	MemberName string
	OmitEmpty  bool
	OmitNil    bool

	steps []step
}

// SourcePath returns the text of the source path.
func (e *ParameterEntry) SourcePath() string {
	return FormatPath(e.Path)
}

// Value walks the precomputed path from the argument to the bound value.
func (e *ParameterEntry) Value(call *Call) (reflect.Value, error) {
	if e.ArgPosition >= len(call.Args) {
		return reflect.Value{}, fmt.Errorf("internal error: no argument %d for %q", e.ArgPosition, e.BindName)
	}
	v := call.Args[e.ArgPosition]
	for _, s := range e.steps {
		if !v.IsValid() {
			return v, nil
		}
		var err error
		if s.member != nil {
			v, err = s.member.Get(v)
		} else {
			v, err = typeinfo.Index(v, s.index)
		}
		if err != nil {
			return reflect.Value{}, fmt.Errorf("bind %q: %w", e.BindName, err)
		}
	}
	return v, nil
}

// Omit implements Source.
func (e *ParameterEntry) Omit(v reflect.Value) bool {
	return (e.OmitNil && typeinfo.IsNilValue(v)) || (e.OmitEmpty && typeinfo.IsEmpty(typeinfo.Indirect(v)))
}

// DynamicParameterEntry is a bind name that could not be resolved against
// the formal parameters. Its value comes from the call's lookup.
type DynamicParameterEntry struct {
	Name     string
	Index    int
	Multiple bool

	path []Segment
}

// Value looks the name up in the call's lookup. When the whole name is not a
// key, the first segment is looked up and the rest of the path is walked on
// the value found.
func (e *DynamicParameterEntry) Value(call *Call) (reflect.Value, error) {
	if v, ok := call.Lookup[e.Name]; ok {
		return reflect.ValueOf(v), nil
	}
	root, ok := call.Lookup[e.path[0].Name]
	if !ok || (len(e.path) == 1 && len(e.path[0].Indexes) == 0) {
		return reflect.Value{}, fmt.Errorf("no value for dynamic parameter %q", e.Name)
	}
	v, err := walkValue(reflect.ValueOf(root), e.path)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("dynamic parameter %q: %w", e.Name, err)
	}
	return v, nil
}

// Omit implements Source. Dynamic parameters carry no conditions.
func (e *DynamicParameterEntry) Omit(reflect.Value) bool {
	return false
}

// walkValue follows a path on a runtime value, looking members up by the
// dynamic type of each value. String-keyed maps accept member syntax.
func walkValue(v reflect.Value, path []Segment) (reflect.Value, error) {
	for i, seg := range path {
		if i > 0 {
			cur := typeinfo.Indirect(v)
			if !cur.IsValid() {
				return cur, nil
			}
			switch {
			case typeinfo.IsStringMap(cur.Type()):
				var err error
				if v, err = typeinfo.Index(cur, seg.Name); err != nil {
					return reflect.Value{}, err
				}
			case cur.Kind() == reflect.Struct:
				info, err := typeinfo.GetTypeInfo(cur.Type())
				if err != nil {
					return reflect.Value{}, err
				}
				m, ok := info.Member(seg.Name)
				if !ok {
					return reflect.Value{}, fmt.Errorf("type %s has no member %q", cur.Type(), seg.Name)
				}
				if v, err = m.Get(cur); err != nil {
					return reflect.Value{}, err
				}
			default:
				return reflect.Value{}, fmt.Errorf("cannot get member %q of %s", seg.Name, cur.Type())
			}
		}
		for _, index := range seg.Indexes {
			var err error
			if v, err = typeinfo.Index(v, index); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	return v, nil
}
