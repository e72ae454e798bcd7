package mysqlclient

import (
	"errors"
	"testing"
	"time"

	"github.com/dhima/mysqlscope/internal/testutil/fakes"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDriverLogger counts calls to the process-wide driver logger setter.
func stubDriverLogger(t *testing.T, err error) *int {
	t.Helper()
	calls := 0
	prev := setDriverLogger
	setDriverLogger = func(mysql.Logger) error {
		calls++
		return err
	}
	t.Cleanup(func() { setDriverLogger = prev })
	return &calls
}

func requireNoLiveLibrary(t *testing.T) {
	t.Helper()
	libraryMu.Lock()
	defer libraryMu.Unlock()
	require.Nil(t, live, "a previous test leaked a library reference")
}

// newTestLibrary acquires a library backed by a fake native driver and
// checks on cleanup that every reference was dropped.
func newTestLibrary(t *testing.T) (*Library, *fakes.FakeNative) {
	t.Helper()
	requireNoLiveLibrary(t)
	stubDriverLogger(t, nil)

	native := fakes.NewFakeNative()
	lib, err := AcquireLibrary(WithConnectorFactory(native.NewConnector))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = lib.Release()
		libraryMu.Lock()
		leaked := live
		live = nil
		libraryMu.Unlock()
		assert.Nil(t, leaked, "library still live after test")
	})
	return lib, native
}

func TestAcquireLibrary_FirstReference_Initializes(t *testing.T) {
	requireNoLiveLibrary(t)
	calls := stubDriverLogger(t, nil)

	lib, err := AcquireLibrary()
	require.NoError(t, err)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, LibraryStats{References: 1}, lib.Stats())

	assert.NoError(t, lib.Release())
	assert.Equal(t, 2, *calls) // driver logger restored on deinit
	requireNoLiveLibrary(t)
}

func TestAcquireLibrary_LiveInstance_IsShared(t *testing.T) {
	requireNoLiveLibrary(t)
	calls := stubDriverLogger(t, nil)

	first, err := AcquireLibrary()
	require.NoError(t, err)
	// Options of a reusing call are ignored, including a broken factory.
	second, err := AcquireLibrary(WithConnectorFactory(nil))
	require.NoError(t, err)

	assert.Same(t, first.lib, second.lib)
	assert.Equal(t, 2, first.Stats().References)
	assert.Equal(t, 1, *calls)

	assert.NoError(t, first.Release())
	assert.Equal(t, 1, second.Stats().References)
	assert.Equal(t, 1, *calls) // still live

	assert.NoError(t, second.Release())
	assert.Equal(t, 2, *calls)
	requireNoLiveLibrary(t)
}

func TestLibraryRelease_Twice_DropsOneReference(t *testing.T) {
	requireNoLiveLibrary(t)
	stubDriverLogger(t, nil)

	a, err := AcquireLibrary()
	require.NoError(t, err)
	b, err := AcquireLibrary()
	require.NoError(t, err)

	assert.NoError(t, a.Release())
	assert.NoError(t, a.Release())
	assert.Equal(t, 1, b.Stats().References)

	assert.NoError(t, b.Release())
	requireNoLiveLibrary(t)
}

func TestAcquireLibrary_AfterDeinit_Reinitializes(t *testing.T) {
	requireNoLiveLibrary(t)
	calls := stubDriverLogger(t, nil)

	first, err := AcquireLibrary()
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := AcquireLibrary()
	require.NoError(t, err)
	assert.NotSame(t, first.lib, second.lib)
	assert.Equal(t, 3, *calls)
	require.NoError(t, second.Release())
}

func TestAcquireLibrary_DriverLoggerFails_ReturnsInitError(t *testing.T) {
	requireNoLiveLibrary(t)
	stubDriverLogger(t, errors.New("logger is nil"))

	lib, err := AcquireLibrary()

	assert.Nil(t, lib)
	assert.ErrorIs(t, err, ErrLibraryInit)
	assert.Contains(t, err.Error(), "failed to initialize MySQL client library")
	assert.Contains(t, err.Error(), "logger is nil")
	requireNoLiveLibrary(t)
}

func TestAcquireLibrary_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"nil logger", WithLogger(nil)},
		{"nil factory", WithConnectorFactory(nil)},
		{"negative timeout", WithTimeouts(-time.Second, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireNoLiveLibrary(t)
			stubDriverLogger(t, nil)

			_, err := AcquireLibrary(tt.opt)
			assert.ErrorIs(t, err, ErrLibraryInit)
			requireNoLiveLibrary(t)
		})
	}
}

func TestLibrary_StaysLiveWhileConnectionOpen(t *testing.T) {
	lib, _ := newTestLibrary(t)

	conn, err := NewConnection(lib)
	require.NoError(t, err)
	assert.Equal(t, LibraryStats{References: 2, Connections: 1}, lib.Stats())

	require.NoError(t, lib.Release())
	libraryMu.Lock()
	assert.NotNil(t, live)
	libraryMu.Unlock()

	require.NoError(t, conn.Close())
	requireNoLiveLibrary(t)
}

func TestNewConnection_ReleasedLibrary_Fails(t *testing.T) {
	lib, _ := newTestLibrary(t)
	require.NoError(t, lib.Release())

	conn, err := NewConnection(lib)

	assert.Nil(t, conn)
	assert.ErrorIs(t, err, ErrReleased)
	assert.Contains(t, err.Error(), "failed to initialize connection object")
}

func TestLibraryConfig_BuildsNativeConfig(t *testing.T) {
	lib := &library{opts: options{
		params:       map[string]string{"time_zone": "'+00:00'"},
		timeout:      3 * time.Second,
		readTimeout:  5 * time.Second,
		writeTimeout: 7 * time.Second,
	}}

	cfg, err := lib.config(ConnectParams{
		Host:     "db.internal",
		Port:     3307,
		Database: "app",
		User:     "svc",
		Password: "secret",
		Flags:    ClientFoundRows | ClientMultiStatements,
	})
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "db.internal:3307", cfg.Addr)
	assert.Equal(t, "svc", cfg.User)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.Equal(t, "app", cfg.DBName)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 7*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "'+00:00'", cfg.Params["time_zone"])
	assert.True(t, cfg.ClientFoundRows)
	assert.True(t, cfg.MultiStatements)
	assert.False(t, cfg.AllowAllFiles)

	// The session params are copied, not shared.
	cfg.Params["time_zone"] = "SYSTEM"
	assert.Equal(t, "'+00:00'", lib.opts.params["time_zone"])
}

func TestLibraryConfig_DefaultPortAndIPv6(t *testing.T) {
	lib := &library{}

	cfg, err := lib.config(ConnectParams{Host: "::1"})
	require.NoError(t, err)
	assert.Equal(t, "[::1]:3306", cfg.Addr)
}

func TestLibraryConfig_UnknownFlags(t *testing.T) {
	lib := &library{}

	_, err := lib.config(ConnectParams{Host: "localhost", Flags: 1 << 3})
	assert.ErrorIs(t, err, ErrUnsupportedFlags)
}
