// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package mapping resolves how the columns of a result set are materialized
// into result shapes.
package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/canonical/sqlaccess/internal/failure"
	"github.com/canonical/sqlaccess/internal/naming"
	"github.com/canonical/sqlaccess/internal/typeinfo"
)

// ColumnInfo describes one column of a result set.
type ColumnInfo struct {
	Name string
	// Type is the Go type the driver reports for the column. It may be
	// nil.
	Type reflect.Type
}

// Kind is the way a shape takes its columns.
type Kind int

const (
	// ScalarShape takes the single column at the start of its window.
	ScalarShape Kind = iota
	// MapShape takes every column left in its window.
	MapShape
	// StructShape takes the columns matched by its constructor and members.
	StructShape
)

// ParameterMapInfo is a constructor parameter and its matched column.
type ParameterMapInfo struct {
	Name   string
	Type   reflect.Type
	Column int
}

// ConstructorMapInfo is the constructor chosen for a shape.
type ConstructorMapInfo struct {
	Constructor *Constructor
	Params      []ParameterMapInfo
}

// PropertyMapInfo is a settable member and its matched column.
type PropertyMapInfo struct {
	Member *typeinfo.Member
	Column int
}

// TypeMapInfo is the materialization plan of one shape.
type TypeMapInfo struct {
	Type reflect.Type
	Kind Kind
	// Constructor is nil when the shape is built from its zero value.
	Constructor *ConstructorMapInfo
	Properties  []PropertyMapInfo
	// Start and End delimit the columns of scalar and map shapes.
	Start int
	End   int
	// Pointers is the number of pointers the requested shape puts around
	// Type. Only struct and map shapes are dereferenced.
	Pointers int
}

// Resolver resolves the mapping of result shapes with the naming
// conventions in effect for one operation.
type Resolver struct {
	Registry *Registry
	// Operation is the convention declared on the operation.
	Operation naming.Convention
	// Factory is the convention declared on the factory.
	Factory naming.Convention
}

// Check validates shapes without knowing the columns. Only shapes that can
// never be built fail.
func (r *Resolver) Check(shapes []reflect.Type) error {
	for _, t := range shapes {
		if !typeinfo.IsNested(t) {
			continue
		}
		t, _ = typeinfo.Deref(t)
		if _, err := typeinfo.GetTypeInfo(t); err != nil {
			return &failure.MappingError{Type: t, Msg: err.Error()}
		}
		s := r.Registry.Shape(t)
		if s.RequireConstructor && len(s.Constructors) == 0 {
			return &failure.MappingError{Type: t, Msg: "constructor required but none registered"}
		}
	}
	return nil
}

// Resolve resolves each shape in order. The column window of a shape starts
// after the highest column matched by the previous shape, or at the same
// place if the previous shape matched nothing.
func (r *Resolver) Resolve(shapes []reflect.Type, columns []ColumnInfo) ([]*TypeMapInfo, error) {
	maps := make([]*TypeMapInfo, 0, len(shapes))
	start := 0
	for _, t := range shapes {
		var m *TypeMapInfo
		var err error
		switch {
		case typeinfo.IsNested(t):
			m, err = r.resolveStruct(t, columns, start)
		case typeinfo.IsStringMap(t):
			base, pointers := typeinfo.Deref(t)
			m = &TypeMapInfo{Type: base, Kind: MapShape, Start: start, End: len(columns), Pointers: pointers}
		default:
			if start >= len(columns) {
				err = &failure.MappingError{Type: t, Msg: fmt.Sprintf("no column left at position %d", start)}
			}
			m = &TypeMapInfo{Type: t, Kind: ScalarShape, Start: start, End: start + 1}
		}
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
		start = m.next(start)
	}
	return maps, nil
}

// next returns the start of the window of the following shape.
func (m *TypeMapInfo) next(start int) int {
	if m.Kind != StructShape {
		return m.End
	}
	highest := -1
	if m.Constructor != nil {
		for _, p := range m.Constructor.Params {
			highest = max(highest, p.Column)
		}
	}
	for _, p := range m.Properties {
		highest = max(highest, p.Column)
	}
	if highest < 0 {
		return start
	}
	return highest + 1
}

func (r *Resolver) resolveStruct(t reflect.Type, columns []ColumnInfo, start int) (*TypeMapInfo, error) {
	t, pointers := typeinfo.Deref(t)
	info, err := typeinfo.GetTypeInfo(t)
	if err != nil {
		return nil, &failure.MappingError{Type: t, Msg: err.Error()}
	}
	shape := r.Registry.Shape(t)
	convention := naming.Resolve(r.Operation, shape.Naming, r.Factory)
	m := &TypeMapInfo{Type: t, Kind: StructShape, Start: start, End: len(columns), Pointers: pointers}

	// Pick the constructor with the most matched parameters, then the
	// most exact type matches. Ties go to the first registered.
	bestExact := -1
	for _, ctor := range shape.Constructors {
		params, exact, ok := matchConstructor(ctor, convention, columns, start)
		if !ok {
			continue
		}
		if m.Constructor == nil || len(params) > len(m.Constructor.Params) ||
			(len(params) == len(m.Constructor.Params) && exact > bestExact) {
			m.Constructor = &ConstructorMapInfo{Constructor: ctor, Params: params}
			bestExact = exact
		}
	}
	if m.Constructor == nil && shape.RequireConstructor {
		return nil, &failure.MappingError{Type: t, Msg: "no constructor matches columns " + columnList(columns[start:])}
	}

	for _, member := range info.Fields {
		if m.Constructor != nil && satisfied(m.Constructor, member) {
			continue
		}
		name := member.Column
		if name == "" {
			name = convention.Apply(member.Name)
		}
		col, ok := findColumn(columns, start, name)
		if !ok {
			continue
		}
		if m.Constructor != nil && usesColumn(m.Constructor, col) {
			continue
		}
		m.Properties = append(m.Properties, PropertyMapInfo{Member: member, Column: col})
	}
	return m, nil
}

// matchConstructor matches every parameter of ctor to a column. It reports
// the number of parameters whose type equals the column's type.
func matchConstructor(ctor *Constructor, convention naming.Convention, columns []ColumnInfo, start int) ([]ParameterMapInfo, int, bool) {
	params := make([]ParameterMapInfo, 0, len(ctor.Params))
	exact := 0
	for _, p := range ctor.Params {
		name := p.Column
		if name == "" {
			name = convention.Apply(p.Name)
		}
		col, ok := findColumn(columns, start, name)
		if !ok {
			return nil, 0, false
		}
		if columns[col].Type == p.Type {
			exact++
		}
		params = append(params, ParameterMapInfo{Name: p.Name, Type: p.Type, Column: col})
	}
	return params, exact, true
}

// findColumn finds the first column at or after start with the given name,
// ignoring case.
func findColumn(columns []ColumnInfo, start int, name string) (int, bool) {
	folded := naming.Fold(name)
	for i := start; i < len(columns); i++ {
		if naming.Fold(columns[i].Name) == folded {
			return i, true
		}
	}
	return 0, false
}

func satisfied(ctor *ConstructorMapInfo, member *typeinfo.Member) bool {
	for _, p := range ctor.Params {
		if naming.Equal(p.Name, member.Name) {
			return true
		}
	}
	return false
}

func usesColumn(ctor *ConstructorMapInfo, col int) bool {
	for _, p := range ctor.Params {
		if p.Column == col {
			return true
		}
	}
	return false
}

func columnList(columns []ColumnInfo) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return "[" + strings.Join(names, ", ") + "]"
}
