// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package resolve maps the bind points of a template to the locations of
// their values in the arguments of a call.
package resolve

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/canonical/sqlaccess/internal/failure"
	"github.com/canonical/sqlaccess/internal/parse"
	"github.com/canonical/sqlaccess/internal/typeinfo"
)

// Result holds the resolved bind points of a template.
type Result struct {
	// Entries are the statically resolved bind names in index order.
	Entries []*ParameterEntry
	// Dynamic are the bind names supplied by the call's lookup.
	Dynamic []*DynamicParameterEntry
	// Raw maps the names of raw substitutions to their sources.
	Raw map[string]Source

	binds map[string]Source
}

// Bind returns the source of a bind name.
func (r *Result) Bind(name string) (Source, bool) {
	s, ok := r.binds[name]
	return s, ok
}

// Len is the number of distinct bind names.
func (r *Result) Len() int {
	return len(r.Entries) + len(r.Dynamic)
}

// resolver resolves paths against the formal parameters of one operation.
type resolver struct {
	operation string
	params    []Param
	// positions maps a bindable parameter to its call argument position.
	positions map[int]int
}

// Resolve resolves every bind and raw substitution name in the body nodes.
// Each distinct bind name gets one entry, indexed in first-encounter order
// with a single counter shared by static and dynamic entries.
func Resolve(operation string, nodes []parse.Node, params []Param) (*Result, error) {
	r := &resolver{operation: operation, params: params, positions: make(map[int]int)}
	pos := 0
	for i, p := range params {
		if p.Special {
			continue
		}
		r.positions[i] = pos
		pos++
	}

	result := &Result{Raw: make(map[string]Source), binds: make(map[string]Source)}
	index := 0
	for _, n := range nodes {
		switch n := n.(type) {
		case *parse.ParameterNode:
			if _, ok := result.binds[n.Name]; ok {
				continue
			}
			entry, dynamic, err := r.resolve(n.Name, index, n.Multiple)
			if err != nil {
				return nil, err
			}
			if entry != nil {
				if entry.Multiple && entry.Direction != In {
					return nil, r.errorf(n.Name, "multiple-valued bind cannot have direction %s", entry.Direction)
				}
				result.Entries = append(result.Entries, entry)
				result.binds[n.Name] = entry
			} else {
				result.Dynamic = append(result.Dynamic, dynamic)
				result.binds[n.Name] = dynamic
			}
			index++
		case *parse.RawSQLNode:
			if _, ok := result.Raw[n.Name]; ok {
				continue
			}
			entry, dynamic, err := r.resolve(n.Name, -1, false)
			if err != nil {
				return nil, err
			}
			if entry != nil {
				result.Raw[n.Name] = entry
			} else {
				result.Raw[n.Name] = dynamic
			}
		}
	}
	return result, nil
}

// resolve resolves one path. Exactly one of the returned entries is set when
// the error is nil.
func (r *resolver) resolve(name string, index int, multiple bool) (*ParameterEntry, *DynamicParameterEntry, error) {
	path, err := ParsePath(name)
	if err != nil {
		return nil, nil, r.errorf(name, "%s", err)
	}

	if i, ok := r.findParam(path[0].Name); ok {
		if entry, ok := r.walk(i, path); ok {
			entry.Index = index
			entry.BindName = name
			return entry, nil, nil
		}
		return nil, &DynamicParameterEntry{Name: name, Index: index, Multiple: multiple, path: path}, nil
	}

	// Retry the path on the nested parameters.
	var nested []int
	for i, p := range r.params {
		if !p.Special && typeinfo.IsNested(p.Type) {
			nested = append(nested, i)
		}
	}
	var matches []*ParameterEntry
	var matchNames []string
	for _, i := range nested {
		rooted := append([]Segment{{Name: r.params[i].Name}}, path...)
		if entry, ok := r.walk(i, rooted); ok {
			matches = append(matches, entry)
			matchNames = append(matchNames, r.params[i].Name)
		}
	}
	switch {
	case len(matches) == 1 && len(nested) == 1:
		matches[0].Index = index
		matches[0].BindName = name
		return matches[0], nil, nil
	case len(matches) > 1:
		return nil, nil, r.errorf(name, "ambiguous: path resolves on nested parameters %s; prefix it with the parameter name", strings.Join(matchNames, ", "))
	}

	return nil, &DynamicParameterEntry{Name: name, Index: index, Multiple: multiple, path: path}, nil
}

// findParam finds a bindable parameter by name. An exact match takes priority
// over a case-insensitive one.
func (r *resolver) findParam(name string) (int, bool) {
	for _, fold := range []bool{false, true} {
		for i, p := range r.params {
			if p.Special {
				continue
			}
			if p.Name == name || (fold && strings.EqualFold(p.Name, name)) {
				return i, true
			}
		}
	}
	return 0, false
}

// walk checks the path against the types of the parameter's members and
// precomputes the accesses. path[0] names the parameter.
func (r *resolver) walk(i int, path []Segment) (*ParameterEntry, bool) {
	p := r.params[i]
	entry := &ParameterEntry{
		Path:        path,
		Direction:   p.Direction,
		ArgPosition: r.positions[i],
		OmitEmpty:   p.OmitEmpty,
		OmitNil:     p.OmitNil,
	}

	t := p.Type
	for j, seg := range path {
		if j > 0 {
			st := deref(t)
			if st.Kind() != reflect.Struct {
				return nil, false
			}
			info, err := typeinfo.GetTypeInfo(st)
			if err != nil {
				return nil, false
			}
			m, ok := info.Member(seg.Name)
			if !ok {
				return nil, false
			}
			entry.steps = append(entry.steps, step{member: m})
			entry.OwnerType = st
			entry.MemberName = m.Name
			entry.OmitEmpty = m.OmitEmpty
			entry.OmitNil = m.OmitNil
			t = m.Type
		}
		for _, index := range seg.Indexes {
			it := deref(t)
			switch {
			case it.Kind() == reflect.Slice || it.Kind() == reflect.Array:
			case it.Kind() == reflect.Map && it.Key().Kind() == reflect.String:
			default:
				return nil, false
			}
			entry.steps = append(entry.steps, step{index: index})
			t = it.Elem()
		}
	}
	if len(entry.steps) > 0 {
		// Only the parameter itself can be written back.
		entry.Direction = In
		if len(path[len(path)-1].Indexes) > 0 {
			entry.OmitEmpty, entry.OmitNil = false, false
		}
	}
	entry.Type = t
	entry.Multiple = typeinfo.IsMultiple(t)
	return entry, true
}

func (r *resolver) errorf(bind string, format string, args ...any) error {
	return &failure.ResolutionError{Operation: r.operation, BindName: bind, Msg: fmt.Sprintf(format, args...)}
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
