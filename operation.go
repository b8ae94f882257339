// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlaccess

import (
	"fmt"
	"reflect"

	"github.com/canonical/sqlaccess/internal/naming"
	"github.com/canonical/sqlaccess/internal/plan"
	"github.com/canonical/sqlaccess/internal/resolve"
)

// Naming is a convention that derives column names from member names.
type Naming = naming.Convention

const (
	// DefaultNaming uses member names as they are.
	DefaultNaming = naming.Default
	SnakeCase     = naming.SnakeCase
	LowerCase     = naming.LowerCase
	UpperCase     = naming.UpperCase
	CamelCase     = naming.CamelCase
)

// Operation is an accessor: a template and the formal parameters bind points
// are resolved against.
//
// Template directives live in SQL comments:
//
//	/*@ name */literal    bind point; a parenthesised literal binds a list
//	/*# name */literal    raw text substitution
//	/*% if expr */ ... /*% elif expr */ ... /*% else */ ... /*% end */
//	/*!helper Name*/      enable a CEL library in conditions
//	/*!using Name*/       expose a value registered with WithUsing
//
// Bind names are paths such as "user.Emails[0]" rooted at a parameter, or at
// the only struct parameter. Names that resolve on no parameter are looked up
// in the [M] passed with the call.
type Operation struct {
	// ID identifies the operation in errors and logs and, with the
	// template, in the plan cache.
	ID  string
	SQL string
	// Params are the formal parameters in declaration order.
	Params []Param
	// Naming overrides the naming convention of result types.
	Naming Naming
	// Results are samples of the result shapes. They are optional; shapes
	// given here are checked when the statement is prepared.
	Results []any
}

// Param is a formal parameter of an [Operation].
type Param struct {
	name      string
	sample    any
	direction resolve.Direction
	special   bool
	omitEmpty bool
	omitNil   bool
}

// In declares an input parameter. The sample is used only for its type.
func In(name string, sample any) Param {
	return Param{name: name, sample: sample}
}

// Ref declares an input-output parameter. The call argument must be a
// pointer to the type of the sample.
func Ref(name string, sample any) Param {
	return Param{name: name, sample: sample, direction: resolve.InOut}
}

// Out declares an output parameter. The call argument must be a pointer to
// the type of the sample.
func Out(name string, sample any) Param {
	return Param{name: name, sample: sample, direction: resolve.Out}
}

// Special declares a parameter that is never bound, such as a context or a
// transaction. It takes no call argument.
func Special(name string) Param {
	return Param{name: name, special: true}
}

// OmitNil makes a scalar bind of the parameter render NULL when its value is
// nil.
func (p Param) OmitNil() Param {
	p.omitNil = true
	return p
}

// OmitEmpty makes a scalar bind of the parameter render NULL when its value
// is the zero value.
func (p Param) OmitEmpty() Param {
	p.omitEmpty = true
	return p
}

func (p Param) resolved() (resolve.Param, error) {
	rp := resolve.Param{
		Name:      p.name,
		Direction: p.direction,
		Special:   p.special,
		OmitEmpty: p.omitEmpty,
		OmitNil:   p.omitNil,
	}
	if p.name == "" {
		return rp, fmt.Errorf("parameter without a name")
	}
	if p.special {
		return rp, nil
	}
	if p.sample == nil {
		return rp, fmt.Errorf("parameter %q: need type sample, got nil", p.name)
	}
	rp.Type = reflect.TypeOf(p.sample)
	return rp, nil
}

// compiled converts the operation for the plan compiler.
func (op Operation) compiled() (plan.Operation, error) {
	out := plan.Operation{ID: op.ID, SQL: op.SQL, Naming: op.Naming}
	seen := make(map[string]bool)
	for _, p := range op.Params {
		rp, err := p.resolved()
		if err != nil {
			return out, err
		}
		if seen[rp.Name] {
			return out, fmt.Errorf("parameter %q declared more than once", rp.Name)
		}
		seen[rp.Name] = true
		out.Params = append(out.Params, rp)
	}
	for _, sample := range op.Results {
		if sample == nil {
			return out, fmt.Errorf("need result sample, got nil")
		}
		out.Results = append(out.Results, reflect.TypeOf(sample))
	}
	return out, nil
}
