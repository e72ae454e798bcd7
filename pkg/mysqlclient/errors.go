package mysqlclient

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrLibraryInit        = errors.New("client library initialization failed")
	ErrReleased           = errors.New("handle already released")
	ErrNotConnected       = errors.New("connection is not established")
	ErrAlreadyConnected   = errors.New("connection is already established")
	ErrNotPrepared        = errors.New("statement is not prepared")
	ErrNoParameters       = errors.New("there are no parameters")
	ErrNoResults          = errors.New("there are no results")
	ErrParametersNotBound = errors.New("parameters are not bound")
	ErrParameterCount     = errors.New("wrong number of parameters")
	ErrNoResultSet        = errors.New("no result set is pending")
	ErrResultCount        = errors.New("wrong number of result columns")
	ErrUnsupportedBuffer  = errors.New("buffer does not match buffer type")
	ErrUnsupportedFlags   = errors.New("unsupported client flags")
	ErrDataTruncated      = errors.New("data truncated")
	ErrIndexOutOfRange    = errors.New("index out of range")
)

// Error is returned when a call into the native client library fails. Op is
// the operation that failed; Code is the native error number when the server
// reported one and 0 otherwise.
type Error struct {
	Op   string
	Code uint16
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	e := &Error{Op: op, Err: err}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		e.Code = myErr.Number
	}
	return e
}

// ErrorCode returns the native error number carried by err, or 0.
func ErrorCode(err error) uint16 {
	var e *Error
	if errors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}
