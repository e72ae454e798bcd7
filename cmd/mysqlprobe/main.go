package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/dhima/mysqlscope/internal/api"
	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/dhima/mysqlscope/internal/probe"
	"github.com/dhima/mysqlscope/pkg/clock"
	"github.com/dhima/mysqlscope/pkg/config"
	"github.com/dhima/mysqlscope/pkg/mysqlclient"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("mysqlprobe stopped: %v", err)
	}
}

func run(ctx context.Context) (err error) {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	logger, err := logging.NewLoggerWithEncoding(cfg.Environment, cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	lib, err := mysqlclient.AcquireLibrary(
		mysqlclient.WithLogger(logger),
		mysqlclient.WithTimeouts(cfg.DialTimeout, 0, 0),
	)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, lib.Release()) }()

	conn, err := mysqlclient.NewConnection(lib)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, conn.Close()) }()

	if err := conn.Connect(ctx, cfg.Connect()); err != nil {
		return err
	}
	if err := conn.SetAutoCommit(ctx, cfg.AutoCommit); err != nil {
		return err
	}
	version, err := conn.ServerVersion(ctx)
	if err != nil {
		return err
	}
	logger.Info("connected to MySQL",
		zap.String("host", cfg.MySQLHost),
		zap.Uint("port", cfg.MySQLPort),
		zap.Uint64("server_version", version),
		zap.Bool("autocommit", cfg.AutoCommit),
	)

	p, err := probe.New(ctx, conn, logger, clock.RealClock{})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, p.Close()) }()

	if _, err := p.RunOnce(ctx); err != nil {
		logger.Warn("initial probe failed", zap.Error(err))
	}
	if err := p.Start(cfg.ProbeSchedule); err != nil {
		return err
	}

	return api.NewServer(cfg, logger, p, lib).Serve(ctx)
}
