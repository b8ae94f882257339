// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"strings"
	"time"

	. "gopkg.in/check.v1"
)

type upperConverter struct{}

func (upperConverter) ToDriver(v any) (driver.Value, error) {
	return strings.ToLower(v.(string)), nil
}

func (upperConverter) FromDriver(src any) (any, error) {
	s, ok := src.(string)
	if !ok {
		return nil, errors.New("not a string")
	}
	return strings.ToUpper(s), nil
}

func (s *typeInfoSuite) TestColumnScannerCopiesBytes(c *C) {
	buf := []byte("abc")
	var cs ColumnScanner
	c.Assert(cs.Scan(buf), IsNil)
	buf[0] = 'x'
	c.Assert(cs.Value, DeepEquals, []byte("abc"))
}

func (s *typeInfoSuite) TestDecode(c *C) {
	when := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		summary  string
		src      any
		target   any
		expected any
	}{
		{"null int", nil, 0, 0},
		{"null pointer", nil, (*string)(nil), (*string)(nil)},
		{"int64 to int", int64(42), 0, 42},
		{"int64 to named float", int64(3), Celsius(0), Celsius(3)},
		{"int64 to bool", int64(1), false, true},
		{"int64 to string", int64(12), "", "12"},
		{"bytes to string", []byte("hi"), "", "hi"},
		{"string to int", "17", int32(0), int32(17)},
		{"string to bytes", "xy", []byte(nil), []byte("xy")},
		{"string to time", "2024-03-01 10:30:00", time.Time{}, when},
		{"time to string", when, "", "2024-03-01T10:30:00Z"},
		{"float to int", float64(4), int64(0), int64(4)},
		{"scanner", "v", sql.NullString{}, sql.NullString{String: "v", Valid: true}},
		{"any", "v", (any)(nil), "v"},
	}
	for i, t := range tests {
		typ := reflect.TypeOf(t.target)
		if typ == nil {
			typ = reflect.TypeOf((*any)(nil)).Elem()
		}
		got, err := NewDecoder(typ, nil)(t.src)
		c.Assert(err, IsNil, Commentf("test %d failed (%s)", i, t.summary))
		c.Assert(got.Interface(), DeepEquals, t.expected, Commentf("test %d failed (%s)", i, t.summary))
	}

	got, err := NewDecoder(reflect.TypeOf((*int)(nil)), nil)(int64(5))
	c.Assert(err, IsNil)
	c.Assert(*got.Interface().(*int), Equals, 5)
}

func (s *typeInfoSuite) TestDecodeErrors(c *C) {
	_, err := NewDecoder(reflect.TypeOf(int8(0)), nil)(int64(300))
	c.Assert(err, ErrorMatches, "value 300 overflows int8")

	_, err = NewDecoder(reflect.TypeOf(uint(0)), nil)(int64(-1))
	c.Assert(err, ErrorMatches, "value -1 overflows uint")

	_, err = NewDecoder(reflect.TypeOf(0), nil)(float64(1.5))
	c.Assert(err, ErrorMatches, "value 1.5 is not an integer")

	_, err = NewDecoder(reflect.TypeOf(Person{}), nil)(int64(1))
	c.Assert(err, ErrorMatches, "unsupported conversion from int64 to typeinfo.Person")
}

func (s *typeInfoSuite) TestDecodeWithConverter(c *C) {
	dec := NewDecoder(reflect.TypeOf(""), upperConverter{})
	got, err := dec("abc")
	c.Assert(err, IsNil)
	c.Assert(got.Interface(), Equals, "ABC")

	// NULL never reaches the converter.
	got, err = dec(nil)
	c.Assert(err, IsNil)
	c.Assert(got.Interface(), Equals, "")

	_, err = dec(int64(1))
	c.Assert(err, ErrorMatches, "not a string")
}
