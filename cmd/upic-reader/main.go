package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/upic/reader/internal/camera"
	"github.com/upic/reader/internal/clock"
	"github.com/upic/reader/internal/config"
	"github.com/upic/reader/internal/console"
	"github.com/upic/reader/internal/db"
	"github.com/upic/reader/internal/decode"
	"github.com/upic/reader/internal/display"
	"github.com/upic/reader/internal/grpcapi"
	"github.com/upic/reader/internal/httpapi"
	"github.com/upic/reader/internal/upic/credentials"
	"github.com/upic/reader/internal/upic/service"
	"github.com/upic/reader/internal/upic/store"
	"github.com/upic/reader/internal/upic/store/sqlite"
	"github.com/upic/reader/internal/upic/store/xlsx"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := os.Getenv("UPIC_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "upic-reader: load %s: %v\n", envFile, err)
		return 2
	}

	cfg := config.FromEnv()
	cfg.BindFlags(pflag.CommandLine)
	pflag.Parse()

	// Raw mode delivers the quit key without Enter; output then needs
	// explicit carriage returns.
	restore, raw, err := console.RawMode(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "upic-reader: terminal raw mode: %v\n", err)
	}
	defer restore()

	var stdout, stderr io.Writer = os.Stdout, os.Stderr
	if raw {
		stdout = &console.CRLFWriter{W: os.Stdout}
		stderr = &console.CRLFWriter{W: os.Stderr}
	}
	logger := newLogger(cfg, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	// Credentials
	creds, err := credentials.Open(cfg.CredentialsPath, credentials.Options{
		ReloadInterval: cfg.ReloadInterval,
		Clock:          clk,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("cannot load credential directory", "path", cfg.CredentialsPath, "error", err)
		return 1
	}
	logger.Info("credential directory loaded",
		"path", creds.Path(), "records", creds.Size(), "fingerprint", creds.Fingerprint())
	if expired := creds.Expired(clk.Now()); len(expired) > 0 {
		ids := make([]string, len(expired))
		for i, r := range expired {
			ids[i] = r.ID
		}
		logger.Warn("directory contains expired credentials", "count", len(expired), "ids", strings.Join(ids, ","))
	}

	// Audit: daily workbook always, sqlite mirror when configured.
	sinks := store.MultiSink{xlsx.NewDailyLog(cfg.LogDir, logger)}
	var auditReader httpapi.AuditReader
	var pruner *service.AuditPruner
	if cfg.AuditDBPath != "" {
		conn, err := db.Open(ctx, db.Config{Path: cfg.AuditDBPath})
		if err != nil {
			logger.Error("cannot open audit mirror", "path", cfg.AuditDBPath, "error", err)
			return 1
		}
		defer conn.Close()
		writer := db.NewWorker(conn)
		defer writer.Close()

		mirror := sqlite.NewAuditStore(conn, writer)
		sinks = append(sinks, mirror)
		auditReader = mirror

		pruner = service.NewAuditPruner(mirror, service.PrunerConfig{
			RetentionDays: cfg.AuditRetentionDays,
			IntervalHours: cfg.PruneIntervalHours,
			Clock:         clk,
		}, logger)
		pruner.Start(ctx)
		defer pruner.Stop()
	}

	policy := service.AccessPolicy{FailClosed: cfg.FailClosed}
	if !cfg.FailClosed {
		logger.Info("unparsable expiration dates are granted (fail-open); set UPIC_FAIL_CLOSED=true to deny")
	}

	// Presenters
	board := service.NewStatusBoard()
	health := grpcapi.NewHealth()
	presenters := display.Multi{display.NewConsole(stdout), board, health}

	// HTTP
	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(httpapi.Dependencies{
			Logger:      logger,
			Addr:        cfg.HTTPAddr,
			Credentials: creds,
			Status:      board,
			Policy:      policy,
			Audit:       auditReader,
			Clock:       clk,
		})
		go func() {
			logger.Info("admin API listening", "addr", cfg.HTTPAddr)
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin API error", "error", err)
			}
		}()
		defer shutdown(logger, "admin API", func(ctx context.Context) error { return srv.Shutdown(ctx) })
	}

	// gRPC health
	if cfg.GRPCAddr != "" {
		gs := grpcapi.NewServer(health, logger)
		addr, err := gs.Start(cfg.GRPCAddr)
		if err != nil {
			logger.Error("cannot start gRPC health server", "addr", cfg.GRPCAddr, "error", err)
			return 1
		}
		logger.Info("gRPC health listening", "addr", addr.String())
		defer shutdown(logger, "gRPC health", func(ctx context.Context) error { gs.Stop(ctx); return nil })
	}

	// Quit key
	go console.WatchQuit(ctx, os.Stdin, stop)

	controller := service.NewScanController(service.ScanDependencies{
		Store:     creds,
		Decoder:   decode.NewQR(),
		Policy:    policy,
		Audit:     sinks,
		Presenter: presenters,
		Camera: camera.Recovery{
			Open: camera.V4L2Opener(camera.Format{
				Width:  uint32(cfg.CameraWidth),
				Height: uint32(cfg.CameraHeight),
				FPS:    uint32(cfg.CameraFPS),
			}),
			Indices: cfg.CameraIndices,
			Backoff: cfg.CameraBackoff,
			Clock:   clk,
			Logger:  logger,
		},
		Clock:  clk,
		Logger: logger,
	}, service.ScanConfig{
		Cooldown: cfg.ScanCooldown,
		Timeout:  cfg.ScanTimeout,
	})

	logger.Info("access control reader started; press q to quit")
	if err := controller.Run(ctx); err != nil {
		logger.Error("scanner stopped", "error", err)
		return 1
	}
	logger.Info("scanner stopped")
	return 0
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func shutdown(logger *slog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown error", "component", name, "error", err)
	}
}
