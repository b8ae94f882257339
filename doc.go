// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package sqlaccess runs SQL operations declared as plain Go values. An
// operation pairs an identifier and a SQL template with a list of typed
// parameters and the result shapes it reads. A [Factory] compiles operations
// into [Statement]s once, and a [DB] renders and runs them.
//
// Templates are ordinary SQL that stays runnable on its own. Directives live in
// block comments and are usually followed by a placeholder value that is
// replaced when the statement is rendered.
//
// # Binding values
//
// A bind directive names the value of a parameter and replaces the token that
// follows it with a placeholder of the database dialect:
//
//	SELECT * FROM person WHERE id = /*@ id */0 AND team = /*@ filter.Team */''
//
// The name is a path: a parameter name followed by members and indexes, as in
// "order.Lines[0].Price". A path that names no parameter is looked up on the
// members of the struct parameters. When it resolves on none of them, its value
// is taken from the [M] passed as the last argument of the call.
//
// A bind followed by a parenthesized list expands to one placeholder per element
// of a slice or array:
//
//	SELECT * FROM person WHERE id IN /*@ ids */(1, 2, 3)
//
// An empty list renders (NULL).
//
// # Raw text
//
// A raw directive writes the value as SQL text and drops the placeholder token
// that follows:
//
//	SELECT * FROM person ORDER BY /*# order */ name
//
// Raw values are never escaped. They must not come from untrusted input.
//
// # Conditions
//
// Parts of a template can be rendered conditionally. Conditions are CEL
// expressions over the call parameters, the "params" lookup and any using
// values:
//
//	SELECT * FROM person WHERE 1 = 1
//	/*% if filter.MinAge > 0 */ AND age >= /*@ filter.MinAge */0 /*% end */
//	/*% if has(params.team) */ AND team = /*@ team */'' /*% end */
//
// The "elif" and "else" directives chain further branches.
//
// # Results
//
// Rows are materialized into structs, string keyed maps or scalars. Struct
// members match columns by their "db" tag, or by their name under the naming
// convention in effect. Several shapes can share a row: each one takes the
// columns that follow those matched by the previous shape.
//
// Types registered with [Factory.Register] can be built by constructors, which
// are matched against the columns by parameter name.
package sqlaccess
