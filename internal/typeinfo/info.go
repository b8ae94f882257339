// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"reflect"
	"strings"
)

// Member represents a readable member of a struct type: an exported field,
// including promoted fields of embedded structs, or an exported getter
// method.
type Member struct {
	// Name is the Go name of the field or method.
	Name string

	// Column is the column name given in the "db" tag. It is empty when the
	// member has no explicit name.
	Column string

	// Type is the type of the field or the result type of the getter.
	Type reflect.Type

	// OmitEmpty is true when "omitempty" is a property of the field's "db"
	// tag.
	OmitEmpty bool

	// OmitNil is true when "omitnil" is a property of the field's "db" tag.
	OmitNil bool

	// index is the field index sequence for reflect.Value.FieldByIndex.
	index []int

	// getter is true for methods.
	getter bool

	// pointerReceiver is true for getters declared on the pointer type only.
	pointerReceiver bool
}

// Settable reports whether values can be assigned to the member.
func (m *Member) Settable() bool {
	return !m.getter
}

// String returns the member name for use in error messages.
func (m *Member) String() string {
	if m.getter {
		return m.Name + "()"
	}
	return m.Name
}

// Info represents reflected information about a struct type.
type Info struct {
	Type reflect.Type

	// Fields holds the settable members in declaration order.
	Fields []*Member

	// Getters holds the exported methods without arguments that return a
	// single value.
	Getters []*Member
}

// Member finds a readable member by Go name or by "db" tag name. An exact
// match takes priority over a case-insensitive one, and fields take priority
// over getters.
func (info *Info) Member(name string) (*Member, bool) {
	for _, fold := range []bool{false, true} {
		for _, m := range info.Fields {
			if matchName(m.Name, name, fold) || (m.Column != "" && matchName(m.Column, name, fold)) {
				return m, true
			}
		}
		for _, m := range info.Getters {
			if matchName(m.Name, name, fold) {
				return m, true
			}
		}
	}
	return nil, false
}

func matchName(a, b string, fold bool) bool {
	if fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}
