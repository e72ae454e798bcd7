// Package probe keeps a prepared health statement on a MySQL connection and
// runs it on demand or on a cron schedule.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/dhima/mysqlscope/pkg/clock"
	"github.com/dhima/mysqlscope/pkg/mysqlclient"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Query is the health statement. The placeholder is echoed back so a run can
// tell its own row from a stale one.
const Query = "SELECT CONNECTION_ID(), VERSION(), UNIX_TIMESTAMP(NOW(6)), ?"

const versionBufferSize = 64

// Snapshot is the outcome of one probe run.
type Snapshot struct {
	Seq          int64           `json:"seq"`
	Healthy      bool            `json:"healthy"`
	ConnectionID uint64          `json:"connection_id,omitempty"`
	Version      string          `json:"server_version,omitempty"`
	ServerTime   decimal.Decimal `json:"server_time"`
	Rows         int             `json:"rows"`
	Truncated    bool            `json:"truncated,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    uint16          `json:"error_code,omitempty"`
	CheckedAt    time.Time       `json:"checked_at"`
	Duration     string          `json:"duration"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`
}

// Probe owns one prepared health statement. Runs are serialized.
type Probe struct {
	mu     sync.Mutex
	stmt   *mysqlclient.Statement
	logger logging.Logger
	clock  clock.Clock

	cron     *cron.Cron
	schedule string

	// Parameter and result buffers bound to the statement.
	seq          int64
	connectionID uint64
	version      []byte
	serverTime   decimal.Decimal
	echo         int64

	last Snapshot
	runs int
}

// New prepares the health statement on conn and binds its buffers. The
// statement holds a reference on conn until Close.
func New(ctx context.Context, conn *mysqlclient.Connection, logger logging.Logger, clk clock.Clock) (*Probe, error) {
	stmt, err := mysqlclient.NewStatement(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe statement: %w", err)
	}

	p := &Probe{
		stmt:    stmt,
		logger:  logger.With(zap.String("component", "probe")),
		clock:   clk,
		version: make([]byte, versionBufferSize),
	}
	if err := p.prepare(ctx); err != nil {
		return nil, errors.Join(err, stmt.Close())
	}
	return p, nil
}

func (p *Probe) prepare(ctx context.Context) error {
	if err := p.stmt.Prepare(ctx, Query); err != nil {
		return err
	}

	p.stmt.AddParameterInt64(&p.seq)
	if err := p.stmt.BindParameters(); err != nil {
		return err
	}

	p.stmt.AddResultUint64(&p.connectionID)
	p.stmt.AddResultBytes(p.version)
	p.stmt.AddResultDecimal(&p.serverTime)
	p.stmt.AddResultInt64(&p.echo)
	return p.stmt.BindResults()
}

// RunOnce executes the health statement and records the snapshot. The
// returned error is also reflected in the snapshot.
func (p *Probe) RunOnce(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	p.runs++
	start := p.clock.Now()
	snap := Snapshot{Seq: p.seq, CheckedAt: start.UTC()}

	err := p.run(ctx, &snap)
	snap.Duration = p.clock.Now().Sub(start).String()
	if err != nil {
		snap.Error = err.Error()
		snap.ErrorCode = mysqlclient.ErrorCode(err)
		p.logger.Warn("probe failed",
			zap.Int64("seq", snap.Seq),
			zap.Uint16("error_code", snap.ErrorCode),
			zap.Error(err),
		)
	} else {
		snap.Healthy = true
		p.logger.Debug("probe succeeded",
			zap.Int64("seq", snap.Seq),
			zap.Uint64("connection_id", snap.ConnectionID),
			zap.String("duration", snap.Duration),
		)
	}
	if p.schedule != "" {
		if next, nerr := NextRun(p.schedule, start); nerr == nil {
			snap.NextRunAt = &next
		}
	}

	p.last = snap
	return snap, err
}

func (p *Probe) run(ctx context.Context, snap *Snapshot) error {
	if err := p.stmt.Execute(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.stmt.Stop(); err != nil {
			p.logger.Warn("failed to stop probe result stream", zap.Error(err))
		}
	}()

	for {
		ok, err := p.stmt.Fetch()
		if errors.Is(err, mysqlclient.ErrDataTruncated) {
			snap.Truncated = true
		} else if err != nil {
			return err
		}
		if !ok {
			break
		}
		snap.Rows++
		snap.ConnectionID = p.connectionID
		snap.ServerTime = p.serverTime
		snap.Version = p.versionText()
		if p.echo != p.seq {
			return fmt.Errorf("probe echoed sequence %d, expected %d", p.echo, p.seq)
		}
	}
	if snap.Rows != 1 {
		return fmt.Errorf("probe returned %d rows, expected 1", snap.Rows)
	}
	return nil
}

func (p *Probe) versionText() string {
	state, err := p.stmt.ResultState(1)
	if err != nil || state.IsNull {
		return ""
	}
	n := state.Length
	if n > len(p.version) {
		n = len(p.version)
	}
	return string(p.version[:n])
}

// Last returns the most recent snapshot and whether any run has happened.
func (p *Probe) Last() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.runs > 0
}

// Start runs the probe on the given cron schedule until Stop.
func (p *Probe) Start(schedule string) error {
	if _, err := ParseSchedule(schedule); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return fmt.Errorf("probe already started")
	}

	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		_, _ = p.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule probe: %w", err)
	}
	p.cron = c
	p.schedule = schedule
	c.Start()

	p.logger.Info("probe scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running probe to finish.
func (p *Probe) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.schedule = ""
	p.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		p.logger.Info("probe stopped")
	}
}

// Close stops the schedule and frees the health statement.
func (p *Probe) Close() error {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stmt.Close()
}
