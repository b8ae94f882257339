// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Converter translates values of one Go type to and from driver values.
type Converter interface {
	// ToDriver converts a bound Go value into a value accepted by the
	// database driver.
	ToDriver(v any) (driver.Value, error)
	// FromDriver converts a non-NULL column value into the Go type the
	// converter is registered for.
	FromDriver(src any) (any, error)
}

// ColumnScanner receives the value of one column from Rows.Scan. NULL
// columns leave Value nil.
type ColumnScanner struct {
	Value any
}

// Scan implements sql.Scanner. Byte slices are copied since the driver may
// reuse them.
func (s *ColumnScanner) Scan(src any) error {
	if b, ok := src.([]byte); ok {
		src = append([]byte(nil), b...)
	}
	s.Value = src
	return nil
}

// Decoder converts a column value into a value of a Go type. NULL decodes to
// the zero value.
type Decoder func(src any) (reflect.Value, error)

// NewDecoder builds the Decoder for type t. When conv is not nil it is
// invoked on non-NULL values only.
func NewDecoder(t reflect.Type, conv Converter) Decoder {
	if conv != nil {
		return func(src any) (reflect.Value, error) {
			if src == nil {
				return reflect.Zero(t), nil
			}
			out, err := conv.FromDriver(src)
			if err != nil {
				return reflect.Value{}, err
			}
			return assign(reflect.ValueOf(out), t)
		}
	}
	return func(src any) (reflect.Value, error) {
		if src == nil {
			return reflect.Zero(t), nil
		}
		return convert(src, t)
	}
}

func assign(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	switch {
	case !v.IsValid():
		return reflect.Zero(t), nil
	case v.Type().AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, nil
	case v.Type().ConvertibleTo(t) && v.Kind() == t.Kind():
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("converter returned %s, need %s", v.Type(), t)
}

// convert converts a non-NULL driver value to type t.
func convert(src any, t reflect.Type) (reflect.Value, error) {
	if reflect.PointerTo(t).Implements(scannerInterface) {
		p := reflect.New(t)
		if err := p.Interface().(sql.Scanner).Scan(src); err != nil {
			return reflect.Value{}, err
		}
		return p.Elem(), nil
	}
	if t.Kind() == reflect.Pointer {
		v, err := convert(src, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(v)
		return p, nil
	}

	sv := reflect.ValueOf(src)
	out := reflect.New(t).Elem()
	if sv.Type().AssignableTo(t) {
		out.Set(sv)
		return out, nil
	}
	switch s := src.(type) {
	case []byte:
		if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			out.SetBytes(s)
			return out, nil
		}
		return convertString(string(s), t)
	case string:
		return convertString(s, t)
	case time.Time:
		if t.Kind() == reflect.String {
			out.SetString(s.Format(time.RFC3339Nano))
			return out, nil
		}
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		switch sv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i = sv.Int()
		case reflect.Float32, reflect.Float64:
			f := sv.Float()
			if f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("value %v is not an integer", f)
			}
			i = int64(f)
		case reflect.Bool:
			if sv.Bool() {
				i = 1
			}
		default:
			return reflect.Value{}, unsupported(src, t)
		}
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("value %d overflows %s", i, t)
		}
		out.SetInt(i)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if sv.Kind() != reflect.Int64 && sv.Kind() != reflect.Int {
			return reflect.Value{}, unsupported(src, t)
		}
		i := sv.Int()
		if i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, fmt.Errorf("value %d overflows %s", i, t)
		}
		out.SetUint(uint64(i))
		return out, nil
	case reflect.Float32, reflect.Float64:
		switch sv.Kind() {
		case reflect.Int, reflect.Int64:
			out.SetFloat(float64(sv.Int()))
		case reflect.Float32, reflect.Float64:
			out.SetFloat(sv.Float())
		default:
			return reflect.Value{}, unsupported(src, t)
		}
		return out, nil
	case reflect.Bool:
		switch sv.Kind() {
		case reflect.Int, reflect.Int64:
			out.SetBool(sv.Int() != 0)
		case reflect.Bool:
			out.SetBool(sv.Bool())
		default:
			return reflect.Value{}, unsupported(src, t)
		}
		return out, nil
	case reflect.String:
		switch sv.Kind() {
		case reflect.Int, reflect.Int64:
			out.SetString(strconv.FormatInt(sv.Int(), 10))
		case reflect.Float32, reflect.Float64:
			out.SetString(strconv.FormatFloat(sv.Float(), 'g', -1, 64))
		case reflect.Bool:
			out.SetString(strconv.FormatBool(sv.Bool()))
		default:
			return reflect.Value{}, unsupported(src, t)
		}
		return out, nil
	case reflect.Interface:
		if sv.Type().Implements(t) {
			out.Set(sv)
			return out, nil
		}
	}
	return reflect.Value{}, unsupported(src, t)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func convertString(s string, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		out.SetString(s)
	case reflect.Slice:
		if t.Elem().Kind() != reflect.Uint8 {
			return reflect.Value{}, unsupported(s, t)
		}
		out.SetBytes([]byte(s))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	case reflect.Struct:
		if t != timeType {
			return reflect.Value{}, unsupported(s, t)
		}
		for _, layout := range timeLayouts {
			if tm, err := time.Parse(layout, s); err == nil {
				out.Set(reflect.ValueOf(tm))
				return out, nil
			}
		}
		return reflect.Value{}, fmt.Errorf("cannot parse %q as time", s)
	case reflect.Interface:
		if reflect.TypeOf(s).Implements(t) {
			out.Set(reflect.ValueOf(s))
			return out, nil
		}
		return reflect.Value{}, unsupported(s, t)
	default:
		return reflect.Value{}, unsupported(s, t)
	}
	return out, nil
}

func unsupported(src any, t reflect.Type) error {
	return fmt.Errorf("unsupported conversion from %T to %s", src, t)
}
