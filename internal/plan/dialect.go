// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package plan

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the placeholder syntax of rendered commands.
type Dialect int

const (
	// SQLite uses "?" placeholders.
	SQLite Dialect = iota
	// MySQL uses "?" placeholders.
	MySQL
	// Postgres uses "$1", "$2", ... placeholders.
	Postgres
	// SQLServer uses "@p1", "@p2", ... placeholders with named arguments.
	SQLServer
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	case Postgres:
		return "postgres"
	case SQLServer:
		return "sqlserver"
	}
	return "Dialect(" + strconv.Itoa(int(d)) + ")"
}

// ParseDialect returns the dialect with the given name.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	}
	return 0, fmt.Errorf("unknown dialect %q", name)
}

// numbered reports whether placeholders carry a number, in which case a
// repeated reference to a bind reuses its placeholder.
func (d Dialect) numbered() bool {
	return d == Postgres || d == SQLServer
}

// placeholder returns the n-th placeholder, counting from 1.
func (d Dialect) placeholder(n int) string {
	switch d {
	case Postgres:
		return "$" + strconv.Itoa(n)
	case SQLServer:
		return "@p" + strconv.Itoa(n)
	}
	return "?"
}

// arg wraps the n-th argument as the driver expects it.
func (d Dialect) arg(n int, v any) any {
	if d == SQLServer {
		return sql.Named("p"+strconv.Itoa(n), v)
	}
	return v
}
