package mysqlclient

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Statement owns one native prepared statement and the parameter and result
// bindings registered on it.
//
// Buffers registered with AddParameter* are read when Execute runs; buffers
// registered with AddResult* are written by every successful Fetch.
type Statement struct {
	conn   *Connection
	id     string
	logger logging.Logger

	native driver.Stmt
	query  string

	params       []Bind
	results      []Bind
	boundParams  []Bind
	boundResults []Bind
	paramsBound  bool
	resultsBound bool

	rows   driver.Rows
	dest   []driver.Value
	states []ColumnState

	affectedRows int64
	insertID     int64
	errorCode    int
	closed       bool
}

// NewStatement allocates a statement handle on conn. The connection stays
// open until the statement is closed.
func NewStatement(conn *Connection) (*Statement, error) {
	const op = "failed to initialize MySQL prepared statement object"
	if conn == nil {
		return nil, newError(op, ErrReleased)
	}
	if conn.closed || conn.released {
		return nil, newError(op, ErrReleased)
	}
	conn.retain()
	conn.lib.track(0, 1)

	id := uuid.New().String()
	return &Statement{
		conn:   conn,
		id:     id,
		logger: conn.logger.With(zap.String("statement_id", id)),
	}, nil
}

// ErrorCode is the result of the last prepare, bind, execute, fetch or stop call:
// 0 on success, the native error number when the server reported one, 1 for
// any other failure.
func (s *Statement) ErrorCode() int { return s.errorCode }

// Native returns the raw driver statement, or nil before Prepare.
func (s *Statement) Native() driver.Stmt { return s.native }

// Prepare compiles query on the server. Preparing again replaces the previous
// statement and clears all bindings.
func (s *Statement) Prepare(ctx context.Context, query string) error {
	const op = "failed to prepare prepared statement"
	if s.closed {
		return s.fail(op, ErrReleased)
	}
	if err := s.conn.live(); err != nil {
		return s.fail(op, err)
	}
	if err := s.reset(); err != nil {
		return s.fail(op, err)
	}

	native, err := prepare(ctx, s.conn.native, query)
	if err != nil {
		s.logger.Debug("prepare failed", zap.String("query", query), zap.Error(err))
		return s.fail(op, err)
	}
	s.native = native
	s.query = query
	s.errorCode = 0

	s.logger.Debug("statement prepared",
		zap.String("query", query),
		zap.Int("param_count", native.NumInput()),
	)
	return nil
}

// ParamCount is the number of placeholders, or -1 when the native statement
// does not know it.
func (s *Statement) ParamCount() int {
	if s.native == nil {
		return 0
	}
	return s.native.NumInput()
}

// AddParameter registers a parameter buffer with an explicit type tag.
// The buffer is checked when parameters are bound.
func (s *Statement) AddParameter(t FieldType, buffer any, length int) {
	s.params = append(s.params, Bind{Type: t, Unsigned: isUnsigned(buffer), Buffer: buffer, BufferLength: length})
}

func (s *Statement) AddParameterInt8(v *int8)       { s.AddParameter(TypeTiny, v, 1) }
func (s *Statement) AddParameterUint8(v *uint8)     { s.AddParameter(TypeTiny, v, 1) }
func (s *Statement) AddParameterInt16(v *int16)     { s.AddParameter(TypeShort, v, 2) }
func (s *Statement) AddParameterUint16(v *uint16)   { s.AddParameter(TypeShort, v, 2) }
func (s *Statement) AddParameterInt32(v *int32)     { s.AddParameter(TypeLong, v, 4) }
func (s *Statement) AddParameterUint32(v *uint32)   { s.AddParameter(TypeLong, v, 4) }
func (s *Statement) AddParameterInt64(v *int64)     { s.AddParameter(TypeLongLong, v, 8) }
func (s *Statement) AddParameterUint64(v *uint64)   { s.AddParameter(TypeLongLong, v, 8) }
func (s *Statement) AddParameterFloat32(v *float32) { s.AddParameter(TypeFloat, v, 4) }
func (s *Statement) AddParameterFloat64(v *float64) { s.AddParameter(TypeDouble, v, 8) }

// AddParameterBytes sends buf as a string of len(buf) bytes. Use
// SetParameterLength to send a shorter prefix.
func (s *Statement) AddParameterBytes(buf []byte) { s.AddParameter(TypeString, buf, len(buf)) }

func (s *Statement) AddParameterBlob(buf []byte) { s.AddParameter(TypeBlob, buf, len(buf)) }

func (s *Statement) AddParameterDecimal(v *decimal.Decimal) {
	s.AddParameter(TypeNewDecimal, v, 0)
}

func (s *Statement) AddParameterTime(v *time.Time) { s.AddParameter(TypeDateTime, v, 0) }

func (s *Statement) AddParameterNull() { s.AddParameter(TypeNull, nil, 0) }

// SetParameterLength changes how many bytes of a byte-slice parameter are
// sent. It takes effect at the next BindParameters.
func (s *Statement) SetParameterLength(index, length int) error {
	if index < 0 || index >= len(s.params) {
		return fmt.Errorf("%w: parameter %d of %d", ErrIndexOutOfRange, index, len(s.params))
	}
	buf, ok := s.params[index].Buffer.([]byte)
	if !ok {
		return fmt.Errorf("%w: parameter %d is not a byte buffer", ErrUnsupportedBuffer, index)
	}
	if length < 0 || length > len(buf) {
		return fmt.Errorf("%w: length %d for a %d byte buffer", ErrIndexOutOfRange, length, len(buf))
	}
	s.params[index].BufferLength = length
	return nil
}

// Parameters returns a copy of the registered parameter descriptors.
func (s *Statement) Parameters() []Bind {
	return append([]Bind(nil), s.params...)
}

// BindParameters hands the registered parameter descriptors to the statement.
func (s *Statement) BindParameters() error {
	const op = "failed to bind prepared statement parameters"
	if len(s.params) == 0 {
		return s.fail(op, ErrNoParameters)
	}
	if s.native == nil {
		return s.fail(op, ErrNotPrepared)
	}
	if n := s.native.NumInput(); n >= 0 && n != len(s.params) {
		return s.fail(op, fmt.Errorf("%w: statement has %d placeholders, %d parameters registered",
			ErrParameterCount, n, len(s.params)))
	}
	for i, p := range s.params {
		if err := p.check(true); err != nil {
			return s.fail(op, fmt.Errorf("parameter %d: %w", i, err))
		}
	}
	s.boundParams = append(s.boundParams[:0], s.params...)
	s.paramsBound = true
	s.errorCode = 0
	return nil
}

// AddResult registers a result buffer with an explicit type tag.
func (s *Statement) AddResult(t FieldType, buffer any, length int) {
	s.results = append(s.results, Bind{Type: t, Unsigned: isUnsigned(buffer), Buffer: buffer, BufferLength: length})
}

func (s *Statement) AddResultInt8(v *int8)       { s.AddResult(TypeTiny, v, 1) }
func (s *Statement) AddResultUint8(v *uint8)     { s.AddResult(TypeTiny, v, 1) }
func (s *Statement) AddResultInt16(v *int16)     { s.AddResult(TypeShort, v, 2) }
func (s *Statement) AddResultUint16(v *uint16)   { s.AddResult(TypeShort, v, 2) }
func (s *Statement) AddResultInt32(v *int32)     { s.AddResult(TypeLong, v, 4) }
func (s *Statement) AddResultUint32(v *uint32)   { s.AddResult(TypeLong, v, 4) }
func (s *Statement) AddResultInt64(v *int64)     { s.AddResult(TypeLongLong, v, 8) }
func (s *Statement) AddResultUint64(v *uint64)   { s.AddResult(TypeLongLong, v, 8) }
func (s *Statement) AddResultFloat32(v *float32) { s.AddResult(TypeFloat, v, 4) }
func (s *Statement) AddResultFloat64(v *float64) { s.AddResult(TypeDouble, v, 8) }

// AddResultBytes receives a column into buf; longer values are truncated.
func (s *Statement) AddResultBytes(buf []byte) { s.AddResult(TypeString, buf, len(buf)) }

func (s *Statement) AddResultBlob(buf []byte) { s.AddResult(TypeBlob, buf, len(buf)) }

func (s *Statement) AddResultDecimal(v *decimal.Decimal) { s.AddResult(TypeNewDecimal, v, 0) }

func (s *Statement) AddResultTime(v *time.Time) { s.AddResult(TypeDateTime, v, 0) }

// Results returns a copy of the registered result descriptors.
func (s *Statement) Results() []Bind {
	return append([]Bind(nil), s.results...)
}

// BindResults hands the registered result descriptors to the statement. The
// column count is checked against the result set when Execute runs.
func (s *Statement) BindResults() error {
	const op = "failed to bind prepared statement results"
	if len(s.results) == 0 {
		return s.fail(op, ErrNoResults)
	}
	if s.native == nil {
		return s.fail(op, ErrNotPrepared)
	}
	for i, r := range s.results {
		if err := r.check(false); err != nil {
			return s.fail(op, fmt.Errorf("result %d: %w", i, err))
		}
	}
	s.boundResults = append(s.boundResults[:0], s.results...)
	s.resultsBound = true
	s.errorCode = 0
	return nil
}

// Execute runs the prepared statement with the current contents of the
// parameter buffers. A result stream still pending from the previous
// execution is discarded first.
func (s *Statement) Execute(ctx context.Context) error {
	const op = "failed to execute prepared statement"
	if s.closed {
		return s.fail(op, ErrReleased)
	}
	if s.native == nil {
		return s.fail(op, ErrNotPrepared)
	}
	if s.native.NumInput() > 0 && !s.paramsBound {
		return s.fail(op, ErrParametersNotBound)
	}
	if err := s.closeRows(); err != nil {
		return s.fail(op, err)
	}
	s.affectedRows, s.insertID = 0, 0

	var args []driver.NamedValue
	if s.paramsBound {
		args = namedValues(s.boundParams)
	}

	if !s.resultsBound {
		res, err := execStmt(ctx, s.native, args)
		if err != nil {
			return s.fail(op, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			s.affectedRows = n
		}
		if id, err := res.LastInsertId(); err == nil {
			s.insertID = id
		}
		s.errorCode = 0
		return nil
	}

	rows, err := queryStmt(ctx, s.native, args)
	if err != nil {
		return s.fail(op, err)
	}
	if cols := len(rows.Columns()); cols != len(s.boundResults) {
		_ = rows.Close()
		return s.fail(op, fmt.Errorf("%w: result set has %d columns, %d results bound",
			ErrResultCount, cols, len(s.boundResults)))
	}
	s.rows = rows
	s.dest = make([]driver.Value, len(s.boundResults))
	s.states = make([]ColumnState, len(s.boundResults))
	s.errorCode = 0
	return nil
}

// Fetch reads the next row into the bound result buffers. It returns true
// when a row was read and false with a nil error when there are no more
// rows. A row whose values did not all fit returns true together with an
// error wrapping ErrDataTruncated; fetching may continue.
func (s *Statement) Fetch() (bool, error) {
	const op = "failed to fetch data"
	if s.rows == nil {
		return false, s.fail(op, ErrNoResultSet)
	}

	err := s.rows.Next(s.dest)
	if err == io.EOF {
		s.errorCode = 0
		return false, nil
	}
	if err != nil {
		return false, s.fail(op, err)
	}

	truncated := false
	for i, r := range s.boundResults {
		state, err := r.assign(s.dest[i])
		s.states[i] = state
		if err != nil {
			return false, s.fail(op, fmt.Errorf("result %d: %w", i, err))
		}
		truncated = truncated || state.Truncated
	}
	s.errorCode = 0
	if truncated {
		return true, newError(op, ErrDataTruncated)
	}
	return true, nil
}

// ResultState reports what the last Fetch wrote for result column index.
func (s *Statement) ResultState(index int) (ColumnState, error) {
	if index < 0 || index >= len(s.states) {
		return ColumnState{}, fmt.Errorf("%w: result %d of %d", ErrIndexOutOfRange, index, len(s.states))
	}
	return s.states[index], nil
}

// Stop terminates the current result stream. It is a no-op when no stream is
// pending.
func (s *Statement) Stop() error {
	if err := s.closeRows(); err != nil {
		return s.fail("failed to stop prepared statement", err)
	}
	s.errorCode = 0
	return nil
}

// AffectedRows is the number of rows changed by the last Execute without
// bound results.
func (s *Statement) AffectedRows() int64 { return s.affectedRows }

// InsertID is the AUTO_INCREMENT value generated by the last Execute without
// bound results.
func (s *Statement) InsertID() int64 { return s.insertID }

// Close frees the native statement and drops the statement's reference on its
// connection. Closing twice is a no-op.
func (s *Statement) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.reset()
	if err != nil {
		err = newError("failed to close prepared statement", err)
	}
	s.logger.Debug("statement released")
	s.conn.lib.track(0, -1)
	return errors.Join(err, s.conn.release())
}

// reset frees the native statement and forgets every binding.
func (s *Statement) reset() error {
	err := s.closeRows()
	if s.native != nil {
		err = errors.Join(err, s.native.Close())
		s.native = nil
	}
	s.query = ""
	s.params, s.results = nil, nil
	s.boundParams, s.boundResults = nil, nil
	s.paramsBound, s.resultsBound = false, false
	s.states = nil
	return err
}

func (s *Statement) closeRows() error {
	if s.rows == nil {
		return nil
	}
	err := s.rows.Close()
	s.rows = nil
	s.dest = nil
	return err
}

func (s *Statement) fail(op string, err error) error {
	e := newError(op, err)
	s.errorCode = int(e.Code)
	if e.Code == 0 {
		s.errorCode = 1
	}
	return e
}

func isUnsigned(buffer any) bool {
	switch buffer.(type) {
	case *uint8, *uint16, *uint32, *uint64:
		return true
	}
	return false
}

func prepare(ctx context.Context, conn driver.Conn, query string) (driver.Stmt, error) {
	if preparer, ok := conn.(driver.ConnPrepareContext); ok {
		return preparer.PrepareContext(ctx, query)
	}
	return conn.Prepare(query)
}

func execStmt(ctx context.Context, stmt driver.Stmt, args []driver.NamedValue) (driver.Result, error) {
	if execer, ok := stmt.(driver.StmtExecContext); ok {
		return execer.ExecContext(ctx, args)
	}
	values, err := plainValues(args)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(values)
}

func queryStmt(ctx context.Context, stmt driver.Stmt, args []driver.NamedValue) (driver.Rows, error) {
	if queryer, ok := stmt.(driver.StmtQueryContext); ok {
		return queryer.QueryContext(ctx, args)
	}
	values, err := plainValues(args)
	if err != nil {
		return nil, err
	}
	return stmt.Query(values)
}

func plainValues(args []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(args))
	for i, a := range args {
		if a.Name != "" {
			return nil, fmt.Errorf("named parameter %q is not supported", a.Name)
		}
		values[i] = a.Value
	}
	return values, nil
}
