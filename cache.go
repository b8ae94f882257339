// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlaccess

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultStatementCacheSize = 128

// statementCache holds the statements prepared on one database, indexed by
// their rendered SQL. Rendering depends on the call, so one Statement can
// have several prepared statements, e.g. one per length of an IN list.
//
// Evicted statements are closed. database/sql keeps a closed statement
// alive until the queries running on it finish.
type statementCache struct {
	// mutex serialises preparation so that the same SQL is never prepared
	// twice concurrently.
	mutex  sync.Mutex
	stmts  *lru.Cache[string, *sql.Stmt]
	logger *slog.Logger
}

func newStatementCache(size int, logger *slog.Logger) *statementCache {
	if size <= 0 {
		size = defaultStatementCacheSize
	}
	sc := &statementCache{logger: logger}
	// NewWithEvict only fails for a non-positive size.
	sc.stmts, _ = lru.NewWithEvict(size, func(query string, stmt *sql.Stmt) {
		stmt.Close()
		logger.Debug("statement evicted", "sql", query)
	})
	return sc
}

// prepareSubstrate is an object that queries can be prepared on, e.g. a sql.DB
// or sql.Conn.
type prepareSubstrate interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// prepare returns the statement prepared for query, preparing it on ps if
// it is not cached.
func (sc *statementCache) prepare(ctx context.Context, ps prepareSubstrate, query string) (*sql.Stmt, error) {
	if stmt, ok := sc.stmts.Get(query); ok {
		return stmt, nil
	}
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	// Check if a statement has been inserted by someone else since we last
	// checked.
	if stmt, ok := sc.stmts.Get(query); ok {
		return stmt, nil
	}
	stmt, err := ps.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sc.stmts.Add(query, stmt)
	sc.logger.Debug("statement prepared", "sql", query)
	return stmt, nil
}

// lookup returns the statement prepared for query, if any.
func (sc *statementCache) lookup(query string) (*sql.Stmt, bool) {
	return sc.stmts.Get(query)
}

// len returns the number of prepared statements.
func (sc *statementCache) len() int {
	return sc.stmts.Len()
}

// purge closes every statement.
func (sc *statementCache) purge() {
	sc.stmts.Purge()
}
