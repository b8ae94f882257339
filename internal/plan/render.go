// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package plan

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/canonical/sqlaccess/internal/resolve"
	"github.com/canonical/sqlaccess/internal/typeinfo"
)

// Command is a rendered template ready to be executed.
type Command struct {
	SQL  string
	Args []any
}

// renderer holds the state of one call.
type renderer struct {
	plan    *Plan
	dialect Dialect
	call    *resolve.Call
	parts   []string
	args    []any
	// numbers holds the placeholder numbers given to a source in this
	// call. Only numbered dialects reuse them.
	numbers map[resolve.Source][]int
	values  map[resolve.Source]reflect.Value
	vars    map[string]any
}

// Render produces the command for one call. Fragments are joined with
// single spaces.
func (p *Plan) Render(dialect Dialect, call *resolve.Call) (*Command, error) {
	r := &renderer{
		plan:    p,
		dialect: dialect,
		call:    call,
		numbers: make(map[resolve.Source][]int),
		values:  make(map[resolve.Source]reflect.Value),
	}
	if err := r.renderItems(p.body); err != nil {
		return nil, err
	}
	return &Command{SQL: strings.Join(r.parts, " "), Args: r.args}, nil
}

func (r *renderer) renderItems(items []item) error {
	for _, it := range items {
		if err := it.render(r); err != nil {
			return err
		}
	}
	return nil
}

func (it *sqlItem) render(r *renderer) error {
	r.parts = append(r.parts, it.text)
	return nil
}

func (it *bindItem) render(r *renderer) error {
	v, err := r.value(it.source)
	if err != nil {
		return err
	}

	entry, static := it.source.(*resolve.ParameterEntry)
	var list bool
	switch {
	case static:
		list = entry.Multiple
	case it.multiple:
		iv := typeinfo.Indirect(v)
		list = !iv.IsValid() || typeinfo.IsMultiple(iv.Type())
	}
	if list {
		values, err := r.listValues(it.name, v)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			r.parts = append(r.parts, "(NULL)")
			return nil
		}
		r.parts = append(r.parts, "("+strings.Join(r.placeholders(it.source, values), ", ")+")")
		return nil
	}

	var text string
	if static && entry.Direction == resolve.In && entry.Omit(v) {
		text = "NULL"
	} else {
		arg, err := r.scalarValue(it.name, entry, v)
		if err != nil {
			return err
		}
		text = r.placeholders(it.source, []any{arg})[0]
	}
	if it.multiple {
		text = "(" + text + ")"
	}
	r.parts = append(r.parts, text)
	return nil
}

func (it *rawItem) render(r *renderer) error {
	v, err := r.value(it.source)
	if err != nil {
		return err
	}
	v = typeinfo.Indirect(v)
	if !v.IsValid() {
		return nil
	}
	if text := fmt.Sprint(v.Interface()); text != "" {
		r.parts = append(r.parts, text)
	}
	return nil
}

func (it *condItem) render(r *renderer) error {
	for _, b := range it.branches {
		if b.prg == nil {
			return r.renderItems(b.body)
		}
		ok, err := r.eval(b)
		if err != nil {
			return err
		}
		if ok {
			return r.renderItems(b.body)
		}
	}
	return nil
}

// value locates the value of a source once per call.
func (r *renderer) value(src resolve.Source) (reflect.Value, error) {
	if v, ok := r.values[src]; ok {
		return v, nil
	}
	v, err := src.Value(r.call)
	if err != nil {
		return reflect.Value{}, err
	}
	r.values[src] = v
	return v, nil
}

// placeholders appends the values as arguments and returns their
// placeholders. Numbered dialects reuse the numbers already given to the
// source.
func (r *renderer) placeholders(src resolve.Source, values []any) []string {
	phs := make([]string, len(values))
	if r.dialect.numbered() {
		if nums, ok := r.numbers[src]; ok && len(nums) == len(values) {
			for i, n := range nums {
				phs[i] = r.dialect.placeholder(n)
			}
			return phs
		}
	}
	nums := make([]int, len(values))
	for i, v := range values {
		n := len(r.args) + 1
		r.args = append(r.args, r.dialect.arg(n, v))
		nums[i] = n
		phs[i] = r.dialect.placeholder(n)
	}
	if r.dialect.numbered() {
		r.numbers[src] = nums
	}
	return phs
}

// listValues returns the driver values of the elements of a collection.
// A nil collection has no elements.
func (r *renderer) listValues(name string, v reflect.Value) ([]any, error) {
	v = typeinfo.Indirect(v)
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("bind %q: need slice or array, got %s", name, v.Type())
	}
	values := make([]any, v.Len())
	for i := range values {
		arg, err := r.driverValue(name, v.Index(i))
		if err != nil {
			return nil, err
		}
		values[i] = arg
	}
	return values, nil
}

// scalarValue returns the argument of a scalar bind. Out and InOut
// entries bind the pointer they were given.
func (r *renderer) scalarValue(name string, entry *resolve.ParameterEntry, v reflect.Value) (any, error) {
	if entry != nil && entry.Direction != resolve.In {
		return sql.Out{Dest: v.Interface(), In: entry.Direction == resolve.InOut}, nil
	}
	return r.driverValue(name, v)
}

// driverValue applies the registered converter, if any. Nil pointers bind
// NULL.
func (r *renderer) driverValue(name string, v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if conv := r.plan.env.Converter(v.Type()); conv != nil {
		iv := typeinfo.Indirect(v)
		if !iv.IsValid() {
			return nil, nil
		}
		arg, err := conv.ToDriver(iv.Interface())
		if err != nil {
			return nil, fmt.Errorf("bind %q: %w", name, err)
		}
		return arg, nil
	}
	if v.Type().Implements(valuerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, nil
		}
		return v.Interface(), nil
	}
	v = typeinfo.Indirect(v)
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

var valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()

// eval evaluates the condition of a branch.
func (r *renderer) eval(b *branch) (bool, error) {
	if r.vars == nil {
		r.vars = r.plan.activation(r.call)
	}
	out, _, err := b.prg.Eval(r.vars)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", b.expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("condition %q: result is %s, not bool", b.expr, out.Type().TypeName())
	}
	return ok, nil
}

// activation exposes the arguments, the lookup and the using values to
// conditions.
func (p *Plan) activation(call *resolve.Call) map[string]any {
	vars := make(map[string]any)
	pos := 0
	for _, prm := range p.Params {
		if prm.Special {
			continue
		}
		if pos < len(call.Args) && prm.Name != paramsVariable {
			vars[prm.Name] = celValue(call.Args[pos], 0)
		}
		pos++
	}
	lookup := make(map[string]any, len(call.Lookup))
	for k, v := range call.Lookup {
		lookup[k] = celValue(reflect.ValueOf(v), 0)
	}
	vars[paramsVariable] = lookup
	for name, v := range p.usings {
		vars[name] = celValue(reflect.ValueOf(v), 0)
	}
	return vars
}

// maxDepth bounds the projection of cyclic values.
const maxDepth = 32

// celValue projects a Go value onto the types CEL understands. Structs
// become maps keyed by field name.
func celValue(v reflect.Value, depth int) any {
	v = typeinfo.Indirect(v)
	if !v.IsValid() || depth > maxDepth {
		return nil
	}
	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case time.Time, time.Duration, []byte:
			return x
		case driver.Valuer:
			dv, err := x.Value()
			if err != nil {
				return nil
			}
			return dv
		}
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	case reflect.Slice, reflect.Array:
		list := make([]any, v.Len())
		for i := range list {
			list[i] = celValue(v.Index(i), depth+1)
		}
		return list
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = celValue(iter.Value(), depth+1)
		}
		return m
	case reflect.Struct:
		info, err := typeinfo.GetTypeInfo(v.Type())
		if err != nil {
			break
		}
		m := make(map[string]any, len(info.Fields))
		for _, f := range info.Fields {
			fv, err := f.Get(v)
			if err != nil {
				continue
			}
			m[f.Name] = celValue(fv, depth+1)
		}
		return m
	}
	if v.CanInterface() {
		return v.Interface()
	}
	return nil
}

// Binding is the value bound for one entry in a call.
type Binding struct {
	Name      string
	Index     int
	Direction resolve.Direction
	// Value is the driver value, a []any for multiple-valued entries or a
	// sql.Out for Out and InOut entries. Omitted values are nil.
	Value any
}

// Bind locates and converts the value of every bind entry, in index order,
// independently of the conditions of the template.
func (p *Plan) Bind(call *resolve.Call) ([]Binding, error) {
	r := &renderer{plan: p, call: call, values: make(map[resolve.Source]reflect.Value)}
	var bindings []Binding
	for _, e := range p.Bindings.Entries {
		v, err := r.value(e)
		if err != nil {
			return nil, err
		}
		b := Binding{Name: e.BindName, Index: e.Index, Direction: e.Direction}
		switch {
		case e.Multiple:
			if b.Value, err = r.listValues(e.BindName, v); err != nil {
				return nil, err
			}
		case e.Direction == resolve.In && e.Omit(v):
		default:
			if b.Value, err = r.scalarValue(e.BindName, e, v); err != nil {
				return nil, err
			}
		}
		bindings = append(bindings, b)
	}
	for _, e := range p.Bindings.Dynamic {
		v, err := r.value(e)
		if err != nil {
			return nil, err
		}
		var arg any
		if iv := typeinfo.Indirect(v); e.Multiple && (!iv.IsValid() || typeinfo.IsMultiple(iv.Type())) {
			arg, err = r.listValues(e.Name, v)
		} else {
			arg, err = r.driverValue(e.Name, v)
		}
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, Binding{Name: e.Name, Index: e.Index, Direction: resolve.In, Value: arg})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Index < bindings[j].Index })
	return bindings, nil
}
