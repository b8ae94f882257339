// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlaccess

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which
// counts the prepared statements opened and closed, and the queries run on
// the connection or through a prepared statement. The counts are indexed by
// the test name found in the DSN.

type driverStats struct {
	opened     int
	closed     int
	connRuns   int
	stmtRuns   int
	statements []string
}

var stats = map[string]*driverStats{}
var statsMutex sync.Mutex

// record applies f to the stats of a test.
func record(testName string, f func(s *driverStats)) {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	s, ok := stats[testName]
	if !ok {
		s = &driverStats{}
		stats[testName] = s
	}
	f(s)
}

// statsOf returns a copy of the stats of a test.
func statsOf(testName string) driverStats {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	if s, ok := stats[testName]; ok {
		return *s
	}
	return driverStats{}
}

type trackingDriver struct {
	driver.Driver
}

type trackingConn struct {
	testName string
	*sqlite3.SQLiteConn
}

type trackingStmt struct {
	testName string
	*sqlite3.SQLiteStmt
}

func (s *trackingStmt) Close() error {
	record(s.testName, func(st *driverStats) { st.closed++ })
	return s.SQLiteStmt.Close()
}

func (s *trackingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := s.SQLiteStmt.QueryContext(ctx, args)
	if err == nil {
		record(s.testName, func(st *driverStats) { st.stmtRuns++ })
	}
	return rows, err
}

func (s *trackingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	res, err := s.SQLiteStmt.ExecContext(ctx, args)
	if err == nil {
		record(s.testName, func(st *driverStats) { st.stmtRuns++ })
	}
	return res, err
}

func (c *trackingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	record(c.testName, func(st *driverStats) {
		st.opened++
		st.statements = append(st.statements, query)
	})
	return &trackingStmt{SQLiteStmt: sm, testName: c.testName}, nil
}

func (c *trackingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *trackingConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := c.SQLiteConn.QueryContext(ctx, query, args)
	if err == nil {
		record(c.testName, func(st *driverStats) { st.connRuns++ })
	}
	return rows, err
}

func (c *trackingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.SQLiteConn.ExecContext(ctx, query, args)
	if err == nil {
		record(c.testName, func(st *driverStats) { st.connRuns++ })
	}
	return res, err
}

const testNameTag = "testName"

// Open expects the DSN to contain the test name using the testNameTag
// attribute.
func (d *trackingDriver) Open(name string) (driver.Conn, error) {
	var testName string
	if _, parameters, ok := strings.Cut(name, "?"); ok {
		for _, p := range strings.Split(parameters, "&") {
			if value, ok := strings.CutPrefix(p, testNameTag+"="); ok {
				testName = value
			}
		}
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}

	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	conn, ok := baseConn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	return &trackingConn{SQLiteConn: conn, testName: testName}, nil
}

func init() {
	sql.Register("sqlite3_tracked", &trackingDriver{&sqlite3.SQLiteDriver{}})
}
