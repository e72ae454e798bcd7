package mysqlclient

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultPort uint = 3306

// ClientFlag selects optional client capabilities requested on connect.
type ClientFlag uint32

const (
	ClientFoundRows       ClientFlag = 1 << 1
	ClientLocalFiles      ClientFlag = 1 << 7
	ClientMultiStatements ClientFlag = 1 << 16

	supportedFlags = ClientFoundRows | ClientLocalFiles | ClientMultiStatements
)

func (f ClientFlag) apply(cfg *mysql.Config) error {
	if unknown := f &^ supportedFlags; unknown != 0 {
		return fmt.Errorf("%w: %#x", ErrUnsupportedFlags, uint32(unknown))
	}
	cfg.ClientFoundRows = f&ClientFoundRows != 0
	cfg.AllowAllFiles = f&ClientLocalFiles != 0
	cfg.MultiStatements = f&ClientMultiStatements != 0
	return nil
}

// ConnectParams identifies the server and account to connect with. A zero
// Port means DefaultPort.
type ConnectParams struct {
	Host     string
	Port     uint
	Database string
	User     string
	Password string
	Flags    ClientFlag
}

// Connection owns one native connection.
type Connection struct {
	lib    *library
	id     string
	logger logging.Logger

	native  driver.Conn
	version uint64

	// refs counts the user handle plus every live statement.
	refs     int
	closed   bool
	released bool
}

// NewConnection allocates a connection handle. It does not touch the network.
func NewConnection(l *Library) (*Connection, error) {
	if l == nil || l.released {
		return nil, newError("failed to initialize connection object", ErrReleased)
	}
	if err := l.lib.retain(); err != nil {
		return nil, newError("failed to initialize connection object", err)
	}
	l.lib.track(1, 0)

	id := uuid.New().String()
	return &Connection{
		lib:    l.lib,
		id:     id,
		logger: l.lib.logger().With(zap.String("connection_id", id)),
		refs:   1,
	}, nil
}

// ID identifies the handle in log lines.
func (c *Connection) ID() string { return c.id }

// Connect opens the native connection.
func (c *Connection) Connect(ctx context.Context, p ConnectParams) error {
	const op = "could not connect to database server"
	if c.closed {
		return newError(op, ErrReleased)
	}
	if c.native != nil {
		return newError(op, ErrAlreadyConnected)
	}

	cfg, err := c.lib.config(p)
	if err != nil {
		return newError(op, err)
	}
	connector, err := c.lib.opts.factory(cfg)
	if err != nil {
		return newError(op, err)
	}
	native, err := connector.Connect(ctx)
	if err != nil {
		c.logger.Warn("connect failed", zap.String("addr", cfg.Addr), zap.Error(err))
		return newError(op, err)
	}
	c.native = native

	c.logger.Info("connected",
		zap.String("addr", cfg.Addr),
		zap.String("database", p.Database),
		zap.String("user", p.User),
	)
	return nil
}

// Native returns the raw driver connection, or nil before Connect.
func (c *Connection) Native() driver.Conn { return c.native }

// SetAutoCommit turns autocommit mode on or off for the session.
func (c *Connection) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	mode, value := "off", 0
	if autoCommit {
		mode, value = "on", 1
	}
	op := "could not set autocommit mode to " + mode

	if err := c.usable(); err != nil {
		return newError(op, err)
	}
	if err := execText(ctx, c.native, "SET autocommit="+strconv.Itoa(value)); err != nil {
		return newError(op, err)
	}
	return nil
}

// ServerVersion returns the server version as major*10000 + minor*100 + patch.
func (c *Connection) ServerVersion(ctx context.Context) (uint64, error) {
	const op = "could not query server version"
	if c.version != 0 {
		return c.version, nil
	}
	if err := c.usable(); err != nil {
		return 0, newError(op, err)
	}
	text, err := queryText(ctx, c.native, "SELECT VERSION()")
	if err != nil {
		return 0, newError(op, err)
	}
	version, err := ParseServerVersion(text)
	if err != nil {
		return 0, newError(op, err)
	}
	c.version = version
	return version, nil
}

// Ping checks that the server is still reachable.
func (c *Connection) Ping(ctx context.Context) error {
	const op = "could not ping database server"
	if err := c.usable(); err != nil {
		return newError(op, err)
	}
	if pinger, ok := c.native.(driver.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return newError(op, err)
		}
		return nil
	}
	if _, err := queryText(ctx, c.native, "SELECT 1"); err != nil {
		return newError(op, err)
	}
	return nil
}

// Close drops the user's reference. The native connection is closed once no
// statement uses it any more. Closing twice is a no-op.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.release()
}

func (c *Connection) usable() error {
	if c.closed {
		return ErrReleased
	}
	if c.native == nil {
		return ErrNotConnected
	}
	return nil
}

// live reports whether the native connection is still open. Statements use it
// instead of usable because they keep the connection after the user closes it.
func (c *Connection) live() error {
	if c.released {
		return ErrReleased
	}
	if c.native == nil {
		return ErrNotConnected
	}
	return nil
}

func (c *Connection) retain() {
	c.refs++
}

func (c *Connection) release() error {
	c.refs--
	if c.refs > 0 || c.released {
		return nil
	}
	c.released = true

	var err error
	if c.native != nil {
		if cerr := c.native.Close(); cerr != nil {
			err = newError("failed to close connection", cerr)
		}
		c.native = nil
	}
	c.logger.Debug("connection released")
	c.lib.track(-1, 0)
	return errors.Join(err, c.lib.release())
}

// ParseServerVersion converts "8.0.36-log" style version strings to
// major*10000 + minor*100 + patch.
func ParseServerVersion(text string) (uint64, error) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "5.5.5-")
	parts := strings.SplitN(text, ".", 3)
	if len(parts) < 3 {
		return 0, fmt.Errorf("malformed server version %q", text)
	}
	var version uint64
	for _, part := range parts {
		end := 0
		for end < len(part) && part[end] >= '0' && part[end] <= '9' {
			end++
		}
		n, err := strconv.ParseUint(part[:end], 10, 64)
		if err != nil || n > 99 {
			return 0, fmt.Errorf("malformed server version %q", text)
		}
		version = version*100 + n
	}
	return version, nil
}

func execText(ctx context.Context, conn driver.Conn, query string) error {
	err := driver.ErrSkip
	if execer, ok := conn.(driver.ExecerContext); ok {
		_, err = execer.ExecContext(ctx, query, nil)
	}
	if !errors.Is(err, driver.ErrSkip) {
		return err
	}
	stmt, err := prepare(ctx, conn, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = execStmt(ctx, stmt, nil)
	return err
}

// queryText runs query and returns the first column of the first row.
func queryText(ctx context.Context, conn driver.Conn, query string) (string, error) {
	var rows driver.Rows
	err := driver.ErrSkip
	if queryer, ok := conn.(driver.QueryerContext); ok {
		rows, err = queryer.QueryContext(ctx, query, nil)
	}
	if errors.Is(err, driver.ErrSkip) {
		stmt, perr := prepare(ctx, conn, query)
		if perr != nil {
			return "", perr
		}
		defer stmt.Close()
		rows, err = queryStmt(ctx, stmt, nil)
	}
	if err != nil {
		return "", err
	}
	defer rows.Close()

	dest := make([]driver.Value, len(rows.Columns()))
	if len(dest) == 0 {
		return "", fmt.Errorf("%w: query returned no columns", ErrResultCount)
	}
	if err := rows.Next(dest); err != nil {
		if err == io.EOF {
			return "", fmt.Errorf("%w: query returned no rows", ErrNoResultSet)
		}
		return "", err
	}
	switch v := dest[0].(type) {
	case []byte:
		return string(v), nil
	case string:
		return v, nil
	}
	return fmt.Sprint(dest[0]), nil
}
