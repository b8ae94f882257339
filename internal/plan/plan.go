// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package plan compiles templates into execution plans and renders them
// into commands for each call.
package plan

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/canonical/sqlaccess/internal/mapping"
	"github.com/canonical/sqlaccess/internal/naming"
	"github.com/canonical/sqlaccess/internal/parse"
	"github.com/canonical/sqlaccess/internal/resolve"
	"github.com/canonical/sqlaccess/internal/typeinfo"
)

// Operation describes an accessor to compile.
type Operation struct {
	ID     string
	SQL    string
	Params []resolve.Param
	// Naming is the convention declared on the operation.
	Naming naming.Convention
	// Results are the result shapes known at compile time. They may be
	// empty when the shapes are only known when a result is read.
	Results []reflect.Type
}

// Environment is the configuration shared by every plan of a factory.
type Environment struct {
	Registry   *mapping.Registry
	Naming     naming.Convention
	Converters map[reflect.Type]typeinfo.Converter
	// Helpers are CEL libraries enabled by /*!helper Name*/ in addition to
	// the built-in ones.
	Helpers map[string][]cel.EnvOption
	// Using are values exposed to conditions by /*!using Name*/.
	Using map[string]any
}

// Converter returns the converter registered for t, or for the type t
// points to.
func (e *Environment) Converter(t reflect.Type) typeinfo.Converter {
	if conv, ok := e.Converters[t]; ok {
		return conv
	}
	if t.Kind() == reflect.Pointer {
		return e.Converters[t.Elem()]
	}
	return nil
}

// Plan is a compiled operation. It is immutable apart from the memo of
// materializers, and is safe for concurrent use.
type Plan struct {
	ID       string
	Nodes    []parse.Node
	Bindings *resolve.Result
	Params   []resolve.Param
	Results  []reflect.Type

	body   []item
	usings map[string]any
	env    *Environment
	mapper *mapping.Resolver
	// mappings holds a *mapping.Materializer per shapes and columns.
	mappings sync.Map
}

// Compile tokenizes, parses and resolves an operation.
func Compile(op Operation, env *Environment) (*Plan, error) {
	nodes, err := parse.Parse(op.SQL)
	if err != nil {
		return nil, fmt.Errorf("operation %q: %w", op.ID, err)
	}
	bindings, err := resolve.Resolve(op.ID, nodes, op.Params)
	if err != nil {
		return nil, err
	}
	mapper := &mapping.Resolver{Registry: env.Registry, Operation: op.Naming, Factory: env.Naming}
	if err := mapper.Check(op.Results); err != nil {
		return nil, err
	}

	c := &compiler{op: op, env: env, bindings: bindings, usings: make(map[string]any)}
	body, err := c.build(nodes)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ID:       op.ID,
		Nodes:    nodes,
		Bindings: bindings,
		Params:   op.Params,
		Results:  op.Results,
		body:     body,
		usings:   c.usings,
		env:      env,
		mapper:   mapper,
	}, nil
}

// Materializer returns the materializer of the shapes for a result set with
// the given columns. The resolution is done once per distinct shapes and
// columns.
func (p *Plan) Materializer(shapes []reflect.Type, columns []mapping.ColumnInfo) (*mapping.Materializer, error) {
	key := mappingKey(shapes, columns)
	if m, ok := p.mappings.Load(key); ok {
		return m.(*mapping.Materializer), nil
	}
	maps, err := p.mapper.Resolve(shapes, columns)
	if err != nil {
		return nil, err
	}
	m, _ := p.mappings.LoadOrStore(key, mapping.NewMaterializer(maps, columns, p.env.Converter))
	return m.(*mapping.Materializer), nil
}

func mappingKey(shapes []reflect.Type, columns []mapping.ColumnInfo) string {
	var b strings.Builder
	for _, t := range shapes {
		b.WriteString(typeKey(t))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	for _, col := range columns {
		b.WriteString(col.Name)
		b.WriteByte(':')
		b.WriteString(typeKey(col.Type))
		b.WriteByte(',')
	}
	return b.String()
}

func typeKey(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	return t.PkgPath() + " " + t.String()
}
