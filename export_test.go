// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlaccess

// CachedStatements returns the number of statements prepared on the
// database.
func (db *DB) CachedStatements() int {
	return db.stmts.len()
}
