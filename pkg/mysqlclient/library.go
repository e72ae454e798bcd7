// Package mysqlclient gives the MySQL client library, its connections and its
// prepared statements scoped lifetimes. Every handle owns exactly one native
// resource and keeps its parent alive: a statement holds its connection, a
// connection holds the library. Native resources are released exactly once,
// when the last reference is dropped, statement first and library last.
//
// Connections and statements are not safe for concurrent use.
package mysqlclient

import (
	"database/sql/driver"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// ConnectorFactory is the native entry point used to open connections.
type ConnectorFactory func(cfg *mysql.Config) (driver.Connector, error)

type options struct {
	logger       logging.Logger
	factory      ConnectorFactory
	params       map[string]string
	timeout      time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Option configures the library when it is initialized. Options passed to an
// AcquireLibrary call that reuses the live instance are ignored.
type Option func(*options)

func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConnectorFactory replaces mysql.NewConnector.
func WithConnectorFactory(factory ConnectorFactory) Option {
	return func(o *options) { o.factory = factory }
}

// WithParams sets session variables applied to every connection.
func WithParams(params map[string]string) Option {
	return func(o *options) { o.params = params }
}

func WithTimeouts(dial, read, write time.Duration) Option {
	return func(o *options) {
		o.timeout = dial
		o.readTimeout = read
		o.writeTimeout = write
	}
}

var (
	setDriverLogger = mysql.SetLogger

	libraryMu sync.Mutex
	live      *library
)

// library is the process-wide instance shared by all Library handles.
type library struct {
	opts        options
	refs        int
	connections int
	statements  int
}

// Library is one reference to the process-wide client library.
type Library struct {
	lib      *library
	released bool
}

// LibraryStats counts live references to the client library.
type LibraryStats struct {
	References  int
	Connections int
	Statements  int
}

// AcquireLibrary returns a reference to the live client library, initializing
// it first when no instance is live.
func AcquireLibrary(opts ...Option) (*Library, error) {
	libraryMu.Lock()
	defer libraryMu.Unlock()

	if live == nil {
		lib, err := initLibrary(opts)
		if err != nil {
			return nil, newError("failed to initialize MySQL client library", err)
		}
		live = lib
	}
	live.refs++
	return &Library{lib: live}, nil
}

func initLibrary(opts []Option) (*library, error) {
	o := options{
		logger:  logging.NewNoOpLogger(),
		factory: mysql.NewConnector,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		return nil, fmt.Errorf("%w: logger is nil", ErrLibraryInit)
	}
	if o.factory == nil {
		return nil, fmt.Errorf("%w: connector factory is nil", ErrLibraryInit)
	}
	if o.timeout < 0 || o.readTimeout < 0 || o.writeTimeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrLibraryInit)
	}
	if err := setDriverLogger(logging.DriverLogger{Logger: o.logger}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLibraryInit, err)
	}

	o.logger.Info("client library initialized",
		zap.Int("session_params", len(o.params)),
		zap.Duration("dial_timeout", o.timeout),
	)
	return &library{opts: o}, nil
}

// Release drops this reference. The library is deinitialized when the last
// reference, including those held by connections, is gone. Releasing a
// handle twice is a no-op.
func (l *Library) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	return l.lib.release()
}

// Stats reports the live references of the shared instance.
func (l *Library) Stats() LibraryStats {
	libraryMu.Lock()
	defer libraryMu.Unlock()
	return LibraryStats{
		References:  l.lib.refs,
		Connections: l.lib.connections,
		Statements:  l.lib.statements,
	}
}

func (lib *library) retain() error {
	libraryMu.Lock()
	defer libraryMu.Unlock()
	if lib.refs == 0 {
		return ErrReleased
	}
	lib.refs++
	return nil
}

func (lib *library) release() error {
	libraryMu.Lock()
	defer libraryMu.Unlock()

	lib.refs--
	if lib.refs > 0 {
		return nil
	}
	if live == lib {
		live = nil
	}
	lib.opts.logger.Info("client library released")
	return setDriverLogger(log.New(os.Stderr, "[mysql] ", log.Ldate|log.Ltime|log.Lshortfile))
}

func (lib *library) track(connections, statements int) {
	libraryMu.Lock()
	lib.connections += connections
	lib.statements += statements
	libraryMu.Unlock()
}

func (lib *library) logger() logging.Logger {
	return lib.opts.logger
}

// config builds the native connection config for p.
func (lib *library) config(p ConnectParams) (*mysql.Config, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	cfg.Addr = net.JoinHostPort(p.Host, strconv.FormatUint(uint64(port), 10))
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.DBName = p.Database
	cfg.Timeout = lib.opts.timeout
	cfg.ReadTimeout = lib.opts.readTimeout
	cfg.WriteTimeout = lib.opts.writeTimeout
	if len(lib.opts.params) > 0 {
		cfg.Params = make(map[string]string, len(lib.opts.params))
		for k, v := range lib.opts.params {
			cfg.Params[k] = v
		}
	}
	if err := p.Flags.apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
