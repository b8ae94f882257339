// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package mapping

import (
	"fmt"
	"reflect"

	"github.com/canonical/sqlaccess/internal/failure"
	"github.com/canonical/sqlaccess/internal/typeinfo"
)

// ConverterFunc returns the converter registered for a type, or nil.
type ConverterFunc func(t reflect.Type) typeinfo.Converter

// builder produces one shape value from the column values of a row.
type builder func(values []any) (reflect.Value, error)

// Materializer builds result shapes from rows. The decoders of every column
// and member are chosen once, when the materializer is created.
type Materializer struct {
	Maps     []*TypeMapInfo
	columns  []ColumnInfo
	builders []builder
}

// NewMaterializer prepares the builders for the given mapping plans.
func NewMaterializer(maps []*TypeMapInfo, columns []ColumnInfo, converters ConverterFunc) *Materializer {
	if converters == nil {
		converters = func(reflect.Type) typeinfo.Converter { return nil }
	}
	m := &Materializer{Maps: maps, columns: columns}
	for _, tm := range maps {
		var b builder
		switch tm.Kind {
		case ScalarShape:
			b = m.scalarBuilder(tm, converters)
		case MapShape:
			b = m.mapBuilder(tm, converters)
		case StructShape:
			b = m.structBuilder(tm, converters)
		}
		m.builders = append(m.builders, addressed(b, tm.Pointers))
	}
	return m
}

// addressed wraps the values built by b in n pointers.
func addressed(b builder, n int) builder {
	if n == 0 {
		return b
	}
	return func(values []any) (reflect.Value, error) {
		v, err := b(values)
		if err != nil {
			return reflect.Value{}, err
		}
		for i := 0; i < n; i++ {
			p := reflect.New(v.Type())
			p.Elem().Set(v)
			v = p
		}
		return v, nil
	}
}

// Columns returns the number of columns of the rows.
func (m *Materializer) Columns() int {
	return len(m.columns)
}

// Row receives the columns of one row.
type Row struct {
	m        *Materializer
	scanners []typeinfo.ColumnScanner
	targets  []any
}

// NewRow returns a Row whose Targets can be passed to Rows.Scan.
func (m *Materializer) NewRow() *Row {
	row := &Row{m: m, scanners: make([]typeinfo.ColumnScanner, len(m.columns))}
	row.targets = make([]any, len(m.columns))
	for i := range row.scanners {
		row.targets[i] = &row.scanners[i]
	}
	return row
}

// Targets returns the scan destinations of the row.
func (r *Row) Targets() []any {
	return r.targets
}

// Values builds one value per shape from the scanned row.
func (r *Row) Values() ([]reflect.Value, error) {
	values := make([]any, len(r.scanners))
	for i := range r.scanners {
		values[i] = r.scanners[i].Value
	}
	out := make([]reflect.Value, len(r.m.builders))
	for i, build := range r.m.builders {
		v, err := build(values)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *Materializer) conversionError(col int, member string, err error) error {
	return &failure.ConversionError{Column: m.columns[col].Name, Member: member, Err: err}
}

func (m *Materializer) scalarBuilder(tm *TypeMapInfo, converters ConverterFunc) builder {
	decode := typeinfo.NewDecoder(tm.Type, converters(tm.Type))
	col := tm.Start
	return func(values []any) (reflect.Value, error) {
		v, err := decode(values[col])
		if err != nil {
			return reflect.Value{}, m.conversionError(col, tm.Type.String(), err)
		}
		return v, nil
	}
}

func (m *Materializer) mapBuilder(tm *TypeMapInfo, converters ConverterFunc) builder {
	elem := tm.Type.Elem()
	decode := typeinfo.NewDecoder(elem, converters(elem))
	keys := make([]reflect.Value, 0, tm.End-tm.Start)
	for i := tm.Start; i < tm.End; i++ {
		keys = append(keys, reflect.ValueOf(m.columns[i].Name).Convert(tm.Type.Key()))
	}
	return func(values []any) (reflect.Value, error) {
		out := reflect.MakeMapWithSize(tm.Type, len(keys))
		for i, key := range keys {
			col := tm.Start + i
			v, err := decode(values[col])
			if err != nil {
				return reflect.Value{}, m.conversionError(col, fmt.Sprintf("%s[%q]", tm.Type, m.columns[col].Name), err)
			}
			out.SetMapIndex(key, v)
		}
		return out, nil
	}
}

// setter decodes one column into one member.
type setter struct {
	member *typeinfo.Member
	col    int
	decode typeinfo.Decoder
}

func (m *Materializer) structBuilder(tm *TypeMapInfo, converters ConverterFunc) builder {
	var ctor *Constructor
	var args []setter
	if tm.Constructor != nil {
		ctor = tm.Constructor.Constructor
		for _, p := range tm.Constructor.Params {
			args = append(args, setter{col: p.Column, decode: typeinfo.NewDecoder(p.Type, converters(p.Type))})
		}
	}
	setters := make([]setter, 0, len(tm.Properties))
	for _, p := range tm.Properties {
		setters = append(setters, setter{member: p.Member, col: p.Column, decode: typeinfo.NewDecoder(p.Member.Type, converters(p.Member.Type))})
	}
	typeName := tm.Type.Name()

	return func(values []any) (reflect.Value, error) {
		out := reflect.New(tm.Type).Elem()
		if ctor != nil {
			in := make([]reflect.Value, len(args))
			for i, a := range args {
				v, err := a.decode(values[a.col])
				if err != nil {
					return reflect.Value{}, m.conversionError(a.col, fmt.Sprintf("parameter %s of constructor of %s", tm.Constructor.Params[i].Name, typeName), err)
				}
				in[i] = v
			}
			v, err := ctor.call(in)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("constructor of %s: %w", typeName, err)
			}
			out.Set(v)
		}
		for _, s := range setters {
			v, err := s.decode(values[s.col])
			if err != nil {
				return reflect.Value{}, m.conversionError(s.col, typeName+"."+s.member.Name, err)
			}
			if err := s.member.Set(out, v); err != nil {
				return reflect.Value{}, err
			}
		}
		return out, nil
	}
}
