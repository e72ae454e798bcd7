package fakes

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
)

// FakeNative stands in for the MySQL driver. It records the configs it was
// asked to connect with and the handles it returned, and keeps an ordered
// log of native close calls.
type FakeNative struct {
	mu         sync.Mutex
	Configs    []*mysql.Config
	Conns      []*FakeConn
	Events     []string
	FactoryErr error
	ConnectErr error
	// Setup, when set, customizes every connection before it is returned.
	Setup func(*FakeConn)
}

func NewFakeNative() *FakeNative {
	return &FakeNative{}
}

// NewConnector has the signature of mysql.NewConnector.
func (n *FakeNative) NewConnector(cfg *mysql.Config) (driver.Connector, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FactoryErr != nil {
		return nil, n.FactoryErr
	}
	n.Configs = append(n.Configs, cfg)
	return &fakeConnector{native: n}, nil
}

// LastConn returns the most recently opened connection.
func (n *FakeNative) LastConn() *FakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Conns) == 0 {
		return nil
	}
	return n.Conns[len(n.Conns)-1]
}

// EventLog returns a copy of the native close calls in order.
func (n *FakeNative) EventLog() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.Events...)
}

func (n *FakeNative) record(event string) {
	n.mu.Lock()
	n.Events = append(n.Events, event)
	n.mu.Unlock()
}

type fakeConnector struct {
	native *FakeNative
}

func (c *fakeConnector) Connect(_ context.Context) (driver.Conn, error) {
	c.native.mu.Lock()
	err := c.native.ConnectErr
	c.native.mu.Unlock()
	if err != nil {
		return nil, err
	}

	conn := &FakeConn{
		native:  c.native,
		Version: "8.0.36",
		Results: make(map[string]*ResultSet),
	}
	if c.native.Setup != nil {
		c.native.Setup(conn)
	}
	c.native.mu.Lock()
	c.native.Conns = append(c.native.Conns, conn)
	c.native.mu.Unlock()
	return conn, nil
}

func (c *fakeConnector) Driver() driver.Driver {
	return &mysql.MySQLDriver{}
}

// ResultSet is what a query on a FakeConn returns. NextErr, when set, is
// returned after the rows are exhausted instead of io.EOF.
type ResultSet struct {
	Columns []string
	Rows    [][]driver.Value
	NextErr error
}

// FakeResult is returned by Exec calls.
type FakeResult struct {
	Affected int64
	InsertID int64
}

func (r FakeResult) LastInsertId() (int64, error) { return r.InsertID, nil }
func (r FakeResult) RowsAffected() (int64, error) { return r.Affected, nil }

// FakeConn is a native connection. Queries are matched against Results by
// their exact text.
type FakeConn struct {
	native *FakeNative

	Version    string
	Results    map[string]*ResultSet
	ExecResult FakeResult
	ExecErr    error
	PrepareErr error
	PingErr    error
	// Respond, when set, builds the result set of a prepared query from its
	// arguments instead of looking it up in Results.
	Respond func(query string, args []driver.NamedValue) *ResultSet

	Execs      []string
	Queries    []string
	Stmts      []*FakeStmt
	Pings      int
	CloseCount int
}

func (c *FakeConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *FakeConn) PrepareContext(_ context.Context, query string) (driver.Stmt, error) {
	if c.PrepareErr != nil {
		return nil, c.PrepareErr
	}
	stmt := &FakeStmt{conn: c, SQL: query}
	c.Stmts = append(c.Stmts, stmt)
	return stmt, nil
}

func (c *FakeConn) Close() error {
	c.CloseCount++
	c.native.record("conn.close")
	return nil
}

func (c *FakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions are not supported by the fake")
}

func (c *FakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.ExecErr != nil {
		return nil, c.ExecErr
	}
	return c.ExecResult, nil
}

func (c *FakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.Queries = append(c.Queries, query)
	if query == "SELECT VERSION()" {
		return &FakeRows{set: &ResultSet{
			Columns: []string{"VERSION()"},
			Rows:    [][]driver.Value{{[]byte(c.Version)}},
		}}, nil
	}
	return &FakeRows{set: c.result(query)}, nil
}

func (c *FakeConn) Ping(_ context.Context) error {
	c.Pings++
	return c.PingErr
}

func (c *FakeConn) result(query string) *ResultSet {
	if set, ok := c.Results[query]; ok {
		return set
	}
	return &ResultSet{}
}

// LastStmt returns the most recently prepared statement.
func (c *FakeConn) LastStmt() *FakeStmt {
	if len(c.Stmts) == 0 {
		return nil
	}
	return c.Stmts[len(c.Stmts)-1]
}

// FakeStmt is a native prepared statement. Its placeholder count is the
// number of '?' in the query.
type FakeStmt struct {
	conn *FakeConn

	SQL      string
	ExecErr  error
	QueryErr error

	Args       [][]driver.NamedValue
	Rows       []*FakeRows
	CloseCount int
}

func (s *FakeStmt) Close() error {
	s.CloseCount++
	s.conn.native.record("stmt.close")
	return nil
}

func (s *FakeStmt) NumInput() int {
	return strings.Count(s.SQL, "?")
}

func (s *FakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), named(args))
}

func (s *FakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), named(args))
}

func (s *FakeStmt) ExecContext(_ context.Context, args []driver.NamedValue) (driver.Result, error) {
	s.Args = append(s.Args, args)
	if s.ExecErr != nil {
		return nil, s.ExecErr
	}
	return s.conn.ExecResult, nil
}

func (s *FakeStmt) QueryContext(_ context.Context, args []driver.NamedValue) (driver.Rows, error) {
	s.Args = append(s.Args, args)
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	set := s.conn.result(s.SQL)
	if s.conn.Respond != nil {
		set = s.conn.Respond(s.SQL, args)
	}
	rows := &FakeRows{set: set}
	s.Rows = append(s.Rows, rows)
	return rows, nil
}

// LastArgs returns the arguments of the most recent execution.
func (s *FakeStmt) LastArgs() []driver.NamedValue {
	if len(s.Args) == 0 {
		return nil
	}
	return s.Args[len(s.Args)-1]
}

// FakeRows streams a ResultSet.
type FakeRows struct {
	set        *ResultSet
	next       int
	CloseCount int
}

func (r *FakeRows) Columns() []string {
	return r.set.Columns
}

func (r *FakeRows) Close() error {
	r.CloseCount++
	return nil
}

func (r *FakeRows) Next(dest []driver.Value) error {
	if r.next >= len(r.set.Rows) {
		if r.set.NextErr != nil {
			return r.set.NextErr
		}
		return io.EOF
	}
	copy(dest, r.set.Rows[r.next])
	r.next++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}
