// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"strconv"
	"strings"
)

// Node is a part of a parsed template. The set of implementations is closed:
// *SQLNode, *ParameterNode, *RawSQLNode, *CodeNode and *UsingNode.
type Node interface {
	// String returns a representation of the node for debugging and
	// testing purposes.
	String() string
	node()
}

// SQLNode is literal SQL passed to the database verbatim.
type SQLNode struct {
	Text string
}

func (n *SQLNode) String() string {
	return "SQL[" + n.Text + "]"
}

// ParameterNode is a bind point written as /*@ name */literal.
type ParameterNode struct {
	Name string
	// Label is the name reduced to identifier characters. It is used by
	// dialects with named placeholders.
	Label string
	// Multiple is true when the example literal following the directive was
	// parenthesised, e.g. /*@ ids */ (1, 2).
	Multiple bool
}

func (n *ParameterNode) String() string {
	return "Parameter[" + n.Name + " multiple=" + strconv.FormatBool(n.Multiple) + "]"
}

// RawSQLNode is a raw text substitution point written as /*# name */.
type RawSQLNode struct {
	Name string
}

func (n *RawSQLNode) String() string {
	return "Raw[" + n.Name + "]"
}

// CodeNode is a structural fragment written as /*% code */. Its content is
// interpreted by the plan compiler.
type CodeNode struct {
	Code string
}

func (n *CodeNode) String() string {
	return "Code[" + n.Code + "]"
}

// UsingNode is a helper import pragma, /*!helper Name*/ (static) or
// /*!using Name*/ (instance).
type UsingNode struct {
	Static bool
	Name   string
}

func (n *UsingNode) String() string {
	if n.Static {
		return "Helper[" + n.Name + "]"
	}
	return "Using[" + n.Name + "]"
}

func (*SQLNode) node()       {}
func (*ParameterNode) node() {}
func (*RawSQLNode) node()    {}
func (*CodeNode) node()      {}
func (*UsingNode) node()     {}

// Format returns the textual representation of a node list.
func Format(nodes []Node) string {
	var b strings.Builder
	b.WriteString("[")
	for i, n := range nodes {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(n.String())
	}
	b.WriteString("]")
	return b.String()
}

// bindLabel reduces a bind path such as "user?.Emails[0]" to an identifier
// such as "user_Emails_0".
func bindLabel(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range name {
		if r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
