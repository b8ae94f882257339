// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package plan

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/canonical/sqlaccess/internal/failure"
	"github.com/canonical/sqlaccess/internal/parse"
	"github.com/canonical/sqlaccess/internal/resolve"
)

// item is a part of the compiled template body.
type item interface {
	render(r *renderer) error
}

type sqlItem struct {
	text string
}

type bindItem struct {
	name     string
	multiple bool
	source   resolve.Source
}

type rawItem struct {
	name   string
	source resolve.Source
}

// condItem is an if/elif/else region. The else branch has no program.
type condItem struct {
	branches []*branch
}

type branch struct {
	expr string
	prg  cel.Program
	body []item
}

func (c *condItem) hasElse() bool {
	return c.branches[len(c.branches)-1].prg == nil
}

// builtinHelpers are the CEL libraries available to /*!helper Name*/.
var builtinHelpers = map[string]func() cel.EnvOption{
	"strings":  func() cel.EnvOption { return ext.Strings() },
	"math":     func() cel.EnvOption { return ext.Math() },
	"encoders": func() cel.EnvOption { return ext.Encoders() },
	"sets":     func() cel.EnvOption { return ext.Sets() },
}

// paramsVariable is the name conditions use for the call's lookup.
const paramsVariable = "params"

type compiler struct {
	op       Operation
	env      *Environment
	bindings *resolve.Result
	usings   map[string]any
	helpers  []cel.EnvOption
	celEnv   *cel.Env
}

// build turns the node list into the item tree. Pragmas come first in the
// node list so every helper is known before the first condition compiles.
func (c *compiler) build(nodes []parse.Node) ([]item, error) {
	var root []item
	var stack []*condItem
	add := func(it item) {
		if len(stack) == 0 {
			root = append(root, it)
			return
		}
		top := stack[len(stack)-1]
		b := top.branches[len(top.branches)-1]
		b.body = append(b.body, it)
	}

	for _, n := range nodes {
		switch n := n.(type) {
		case *parse.UsingNode:
			if err := c.use(n); err != nil {
				return nil, err
			}
		case *parse.SQLNode:
			add(&sqlItem{text: n.Text})
		case *parse.ParameterNode:
			src, ok := c.bindings.Bind(n.Name)
			if !ok {
				return nil, c.errorf("no binding for %q", n.Name)
			}
			add(&bindItem{name: n.Name, multiple: n.Multiple, source: src})
		case *parse.RawSQLNode:
			src, ok := c.bindings.Raw[n.Name]
			if !ok {
				return nil, c.errorf("no binding for %q", n.Name)
			}
			add(&rawItem{name: n.Name, source: src})
		case *parse.CodeNode:
			keyword, expr := splitCode(n.Code)
			switch keyword {
			case "if":
				b, err := c.branch(expr)
				if err != nil {
					return nil, err
				}
				cond := &condItem{branches: []*branch{b}}
				add(cond)
				stack = append(stack, cond)
			case "elif":
				if len(stack) == 0 {
					return nil, c.errorf("elif without if")
				}
				top := stack[len(stack)-1]
				if top.hasElse() {
					return nil, c.errorf("elif after else")
				}
				b, err := c.branch(expr)
				if err != nil {
					return nil, err
				}
				top.branches = append(top.branches, b)
			case "else":
				if len(stack) == 0 {
					return nil, c.errorf("else without if")
				}
				top := stack[len(stack)-1]
				if top.hasElse() {
					return nil, c.errorf("else after else")
				}
				top.branches = append(top.branches, &branch{})
			case "end":
				if len(stack) == 0 {
					return nil, c.errorf("end without if")
				}
				stack = stack[:len(stack)-1]
			default:
				return nil, c.errorf("unknown code fragment %q", n.Code)
			}
		}
	}
	if len(stack) > 0 {
		return nil, c.errorf("if %q is not closed", stack[len(stack)-1].branches[0].expr)
	}
	return root, nil
}

// splitCode splits a code fragment into its keyword and expression.
// "else if" is read as "elif". A keyword that takes no expression but has
// one is returned as is, which makes it unknown.
func splitCode(code string) (string, string) {
	keyword, rest, _ := strings.Cut(code, " ")
	rest = strings.TrimSpace(rest)
	if keyword == "else" && strings.HasPrefix(rest, "if ") {
		return "elif", strings.TrimSpace(rest[len("if "):])
	}
	if (keyword == "else" || keyword == "end") && rest != "" {
		return code, ""
	}
	return keyword, rest
}

// use records a helper pragma.
func (c *compiler) use(n *parse.UsingNode) error {
	if n.Static {
		if lib, ok := builtinHelpers[n.Name]; ok {
			c.helpers = append(c.helpers, lib())
			return nil
		}
		opts, ok := c.env.Helpers[n.Name]
		if !ok {
			return c.errorf("unknown helper %q", n.Name)
		}
		c.helpers = append(c.helpers, opts...)
		return nil
	}
	v, ok := c.env.Using[n.Name]
	if !ok {
		return c.errorf("unknown using %q", n.Name)
	}
	if n.Name == paramsVariable {
		return c.errorf("using %q shadows the call parameters", n.Name)
	}
	c.usings[n.Name] = v
	return nil
}

// branch compiles a condition.
func (c *compiler) branch(expr string) (*branch, error) {
	if expr == "" {
		return nil, c.errorf("missing condition")
	}
	env, err := c.celEnvironment()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, c.errorf("cannot compile condition %q: %s", expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, c.errorf("condition %q must be a bool, got %s", expr, t)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, c.errorf("cannot compile condition %q: %s", expr, err)
	}
	return &branch{expr: expr, prg: prg}, nil
}

// celEnvironment declares the bindable parameters, the call's lookup and
// the using values as variables. It is built on the first condition.
func (c *compiler) celEnvironment() (*cel.Env, error) {
	if c.celEnv != nil {
		return c.celEnv, nil
	}
	opts := []cel.EnvOption{cel.Variable(paramsVariable, cel.MapType(cel.StringType, cel.DynType))}
	for _, p := range c.op.Params {
		if p.Special || p.Name == paramsVariable {
			continue
		}
		opts = append(opts, cel.Variable(p.Name, cel.DynType))
	}
	for name := range c.usings {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	opts = append(opts, c.helpers...)
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, c.errorf("cannot declare condition variables: %s", err)
	}
	c.celEnv = env
	return env, nil
}

func (c *compiler) errorf(format string, args ...any) error {
	return &failure.TemplateError{Operation: c.op.ID, Msg: fmt.Sprintf(format, args...)}
}
