// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlaccess

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/canonical/sqlaccess/internal/mapping"
	"github.com/canonical/sqlaccess/internal/typeinfo"
)

// M is the runtime lookup of a call. Passed as the last argument of a query,
// it supplies the values of dynamic parameters and the "params" variable of
// conditions. As an output it receives every column of a row.
//
// Example:
//
//	stmt := factory.MustPrepare(sqlaccess.Operation{
//		ID:  "people.rename",
//		SQL: "UPDATE people SET name = /*@ name */'' WHERE id = /*@ id */0",
//	})
//	err := db.Query(ctx, stmt, sqlaccess.M{"name": "Fred", "id": 10}).Run()
type M map[string]any

// DB is a database with a cache of prepared statements and the dialect used
// to render statements for it.
type DB struct {
	sqldb   *sql.DB
	dialect Dialect
	stmts   *statementCache
	logger  *slog.Logger
}

// DBOption configures a DB.
type DBOption func(*dbConfig)

type dbConfig struct {
	dialect   Dialect
	cacheSize int
	logger    *slog.Logger
}

// WithDialect sets the dialect of the database. The default is SQLite.
func WithDialect(d Dialect) DBOption {
	return func(c *dbConfig) { c.dialect = d }
}

// WithStatementCacheSize sets the number of prepared statements kept per
// database. Least recently used statements are closed first.
func WithStatementCacheSize(size int) DBOption {
	return func(c *dbConfig) { c.cacheSize = size }
}

// WithDBLogger sets the logger of the database.
func WithDBLogger(logger *slog.Logger) DBOption {
	return func(c *dbConfig) { c.logger = logger }
}

// NewDB creates a new [DB] from a [sql.DB].
func NewDB(sqldb *sql.DB, opts ...DBOption) *DB {
	if sqldb == nil {
		return nil
	}
	cfg := dbConfig{dialect: SQLite, cacheSize: defaultStatementCacheSize, logger: discardLogger}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &DB{
		sqldb:   sqldb,
		dialect: cfg.dialect,
		stmts:   newStatementCache(cfg.cacheSize, cfg.logger),
		logger:  cfg.logger,
	}
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.sqldb
}

// Dialect returns the dialect statements are rendered in.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the cached prepared statements and the database.
func (db *DB) Close() error {
	db.stmts.purge()
	return db.sqldb.Close()
}

// runFunc executes a query. It returns rows when rows is true and a result
// otherwise.
type runFunc func(ctx context.Context, rows bool) (*sql.Rows, sql.Result, error)

// Query represents a query on a database. It is designed to be run once.
type Query struct {
	run  runFunc
	ctx  context.Context
	err  error
	stmt *Statement
}

// Iterator is used to iterate over the results of the query.
type Iterator struct {
	stmt    *Statement
	rows    *sql.Rows
	cols    []mapping.ColumnInfo
	err     error
	started bool
}

// Query builds a new query from a context, a [Statement] and the call
// arguments: one per bindable parameter, optionally followed by an [M]. The
// statement is rendered immediately and run on the database when one of
// [Query.Iter], [Query.Run], [Query.Get] or [Query.GetAll] is executed.
func (db *DB) Query(ctx context.Context, s *Statement, args ...any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd, err := s.Render(db.dialect, args...)
	if err != nil {
		return &Query{ctx: ctx, err: err}
	}
	db.logger.Debug("query", "operation", s.ID(), "sql", cmd.SQL, "args", len(cmd.Args))

	run := func(innerCtx context.Context, rows bool) (*sql.Rows, sql.Result, error) {
		sqlstmt, err := db.stmts.prepare(innerCtx, db.sqldb, cmd.SQL)
		if err != nil {
			return nil, nil, err
		}
		if rows {
			r, err := sqlstmt.QueryContext(innerCtx, cmd.Args...)
			return r, nil, err
		}
		result, err := sqlstmt.ExecContext(innerCtx, cmd.Args...)
		return nil, result, err
	}
	return &Query{run: run, ctx: ctx, stmt: s}
}

// Run is used to run a query on a database and disregard any results.
// Run is an alias for [Query.Get] that takes no arguments.
func (q *Query) Run() error {
	return q.Get()
}

// Get runs the query and materializes the first row returned into the
// provided output arguments, pointers to result shapes or maps. It returns
// [ErrNoRows] if output arguments were provided but no results were found.
//
// A pointer to an empty [Outcome] struct may be provided as the first output
// variable to fill it with information about query execution.
func (q *Query) Get(outputArgs ...any) error {
	if q.err != nil {
		return q.err
	}
	outcome, outputArgs := splitOutcome(outputArgs)
	if len(outputArgs) == 0 {
		_, result, err := q.run(q.ctx, false)
		if err != nil {
			return err
		}
		if outcome != nil {
			outcome.result = result
		}
		return nil
	}

	var err error
	iter := q.Iter()
	if outcome != nil {
		err = iter.Get(outcome)
	}
	if err == nil && !iter.Next() {
		err = iter.Close()
		if err == nil {
			err = ErrNoRows
		}
		return err
	}
	if err == nil {
		err = iter.Get(outputArgs...)
	}
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	return err
}

// Iter returns an [Iterator] to iterate through the results row by row.
// [Iterator.Close] must be run once iteration is finished.
func (q *Query) Iter() *Iterator {
	if q.err != nil {
		return &Iterator{err: q.err}
	}
	rows, _, err := q.run(q.ctx, true)
	if err != nil {
		return &Iterator{stmt: q.stmt, err: err}
	}
	cols, err := columns(rows)
	if err != nil {
		rows.Close()
		return &Iterator{stmt: q.stmt, err: err}
	}
	return &Iterator{stmt: q.stmt, rows: rows, cols: cols}
}

func columns(rows *sql.Rows) ([]mapping.ColumnInfo, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]mapping.ColumnInfo, len(types))
	for i, t := range types {
		cols[i] = mapping.ColumnInfo{Name: t.Name(), Type: t.ScanType()}
	}
	return cols, nil
}

// Next prepares the next row for [Iterator.Get]. If an error occurs during
// iteration it will be returned with [Iterator.Close].
func (iter *Iterator) Next() bool {
	iter.started = true
	if iter.err != nil || iter.rows == nil {
		return false
	}
	return iter.rows.Next()
}

// Get materializes the row from the previous [Iterator.Next] call into the
// provided output arguments. Composite results take one output per shape,
// each shape taking the columns that follow those of the previous one.
//
// Before the first call of [Iterator.Next] a pointer to an empty [Outcome]
// struct may be passed to Get as the only argument.
func (iter *Iterator) Get(outputArgs ...any) (err error) {
	if iter.err != nil {
		return iter.err
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot get result: %w", err)
		}
	}()

	if !iter.started {
		if len(outputArgs) == 1 {
			if _, ok := outputArgs[0].(*Outcome); ok {
				return nil
			}
		}
		return fmt.Errorf("cannot call Get before Next unless getting outcome")
	}
	if iter.rows == nil {
		return fmt.Errorf("iteration ended")
	}

	outputs, err := typeinfo.ValidateOutputs(outputArgs)
	if err != nil {
		return err
	}
	shapes := make([]reflect.Type, len(outputs))
	for i, out := range outputs {
		shapes[i] = out.Type
	}
	values, err := iter.scan(shapes)
	if err != nil {
		return err
	}
	for i, out := range outputs {
		setOutput(out.Value, values[i])
	}
	return nil
}

// scan reads the current row into one value per shape.
func (iter *Iterator) scan(shapes []reflect.Type) ([]reflect.Value, error) {
	m, err := iter.stmt.plan.Materializer(shapes, iter.cols)
	if err != nil {
		return nil, err
	}
	row := m.NewRow()
	if err := iter.rows.Scan(row.Targets()...); err != nil {
		return nil, err
	}
	return row.Values()
}

// setOutput stores a materialized value. Maps receive the entries of the
// value, other outputs are overwritten.
func setOutput(dst reflect.Value, v reflect.Value) {
	if dst.Kind() == reflect.Map {
		iter := v.MapRange()
		for iter.Next() {
			dst.SetMapIndex(iter.Key(), iter.Value())
		}
		return
	}
	dst.Set(v)
}

// Close finishes the iteration and returns any errors encountered. Close can
// be called multiple times on the [Iterator] and the same error will be
// returned.
func (iter *Iterator) Close() error {
	iter.started = true
	if iter.rows == nil {
		return iter.err
	}
	err := iter.rows.Close()
	if rerr := iter.rows.Err(); err == nil {
		err = rerr
	}
	iter.rows = nil
	if iter.err != nil {
		return iter.err
	}
	iter.err = err
	return err
}

// Outcome holds metadata about executed queries, and can be provided as the
// first output argument to any of the Get methods to populate it with
// information about the query execution.
type Outcome struct {
	result sql.Result
}

// Result returns a [sql.Result] containing information about the query
// execution. If no result is set then Result returns nil.
func (o *Outcome) Result() sql.Result {
	return o.result
}

func splitOutcome(args []any) (*Outcome, []any) {
	if len(args) > 0 {
		if oc, ok := args[0].(*Outcome); ok {
			oc.result = nil
			return oc, args[1:]
		}
	}
	return nil, args
}

// GetAll iterates over the query and materializes all rows into the provided
// slices. sliceArgs must contain pointers to slices of each of the result
// shapes. A pointer to an empty [Outcome] struct may be provided as the
// first output variable to get information about query execution.
//
// [ErrNoRows] will be returned if no rows are found.
func (q *Query) GetAll(sliceArgs ...any) (err error) {
	if q.err != nil {
		return q.err
	}
	_, sliceArgs = splitOutcome(sliceArgs)
	if len(sliceArgs) == 0 {
		return q.Get()
	}
	outputs, err := typeinfo.ValidateSliceOutputs(sliceArgs)
	if err != nil {
		return err
	}
	shapes := make([]reflect.Type, len(outputs))
	slices := make([]reflect.Value, len(outputs))
	for i, out := range outputs {
		shapes[i] = out.Type
		slices[i] = reflect.MakeSlice(out.Slice.Type(), 0, 0)
	}

	rowsReturned := false
	iter := q.Iter()
	for iter.Next() {
		rowsReturned = true
		values, err := iter.scan(shapes)
		if err != nil {
			iter.Close()
			return fmt.Errorf("cannot get result: %w", err)
		}
		for i, out := range outputs {
			v := values[i]
			if out.Pointers {
				p := reflect.New(out.Type)
				p.Elem().Set(v)
				v = p
			}
			slices[i] = reflect.Append(slices[i], v)
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}
	if !rowsReturned {
		return ErrNoRows
	}
	for i, out := range outputs {
		out.Slice.Set(slices[i])
	}
	return nil
}

// TX represents a transaction on the database.
type TX struct {
	sqltx *sql.Tx
	db    *DB
	done  int32
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// Begin starts a transaction. A transaction must be ended
// with a [TX.Commit] or [TX.Rollback].
func (db *DB) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.sqldb.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, err
	}
	return &TX{sqltx: sqltx, db: db}, nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// TXOptions holds the transaction options to be used in [DB.Begin].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Query builds a new query on the transaction. It takes the same arguments
// as [DB.Query].
func (tx *TX) Query(ctx context.Context, s *Statement, args ...any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.isDone() {
		return &Query{ctx: ctx, err: ErrTXDone}
	}
	cmd, err := s.Render(tx.db.dialect, args...)
	if err != nil {
		return &Query{ctx: ctx, err: err}
	}
	tx.db.logger.Debug("query", "operation", s.ID(), "sql", cmd.SQL, "args", len(cmd.Args), "tx", true)

	run := func(innerCtx context.Context, rows bool) (*sql.Rows, sql.Result, error) {
		if sqlstmt, ok := tx.db.stmts.lookup(cmd.SQL); ok {
			// The transaction statement is closed by database/sql when the
			// transaction ends.
			txstmt := tx.sqltx.StmtContext(innerCtx, sqlstmt)
			if rows {
				r, err := txstmt.QueryContext(innerCtx, cmd.Args...)
				return r, nil, err
			}
			result, err := txstmt.ExecContext(innerCtx, cmd.Args...)
			return nil, result, err
		}
		if rows {
			r, err := tx.sqltx.QueryContext(innerCtx, cmd.SQL, cmd.Args...)
			return r, nil, err
		}
		result, err := tx.sqltx.ExecContext(innerCtx, cmd.SQL, cmd.Args...)
		return nil, result, err
	}
	return &Query{run: run, ctx: ctx, stmt: s}
}
