package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/scheduler"
	"github.com/mirahq/mira/internal/toolloop"
	"github.com/mirahq/mira/internal/watcher"
)

// runServe implements "mira serve": watches projectRoot, runs the
// background scheduler's dirty-sweep and compaction loop, and exposes the
// Agentic Tool Loop over a Unix-domain socket using the line-delimited JSON
// wire protocol (spec §6). Shuts down cooperatively on SIGINT/SIGTERM,
// mirroring the teacher's cmd/mcp/main.go signal-handling shape.
func runServe(cfg *config.Config, projectRoot string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("mira serve: received shutdown signal")
		cancel()
	}()

	a, err := buildApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("mira serve: failed to initialize stores")
	}
	defer a.Close()

	projectID, err := resolveProject(ctx, a, projectRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("mira serve: failed to resolve project")
	}

	_, shutdownTracing, err := scheduler.SetupTracing(ctx, cfg.OTelEndpoint, "mira")
	if err != nil {
		log.Warn().Err(err).Msg("mira serve: tracing setup failed, continuing without spans")
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("mira serve: tracing shutdown failed")
		}
	}()

	meters, err := scheduler.SetupMetrics("mira")
	if err != nil {
		log.Warn().Err(err).Msg("mira serve: metrics setup failed, continuing without counters")
		meters = nil
	}

	w, err := watcher.New(a.indexer, a.pool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("mira serve: failed to start filesystem watcher")
	}
	w.WithRegistry(a.parsers)
	w.SetProjects(map[int64]string{projectID: mustAbs(projectRoot)})
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("mira serve: watcher exited unexpectedly")
		}
	}()

	sweepInterval := time.Duration(cfg.HealthScanIntervalSec) * time.Second
	sched := scheduler.New(a.pool, a.scanner, sweepInterval, log.Logger).WithMeters(meters)
	go sched.Start(ctx)
	defer sched.Stop()

	mcp, err := toolloop.DiscoverMCPBridge(projectRoot)
	if err != nil {
		log.Warn().Err(err).Msg("mira serve: MCP bridge discovery failed, external tools disabled")
		mcp = nil
	}
	registry := toolloop.NewRegistry(a.pool, a.engine, a.scanner, a.injection, a.fuzzy, mcp)
	wireServer := &toolloop.WireServer{Registry: registry, ProjectID: projectID}

	socketPath := cfg.SocketPath
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		log.Fatal().Err(err).Str("socket", socketPath).Msg("mira serve: failed to bind tool-loop socket")
	}
	defer os.Remove(socketPath)

	log.Info().Str("socket", socketPath).Int64("project_id", projectID).Msg("mira serve: ready")

	opsLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Warn().Err(err).Msg("mira serve: ops listener failed to bind, STATUS/pprof endpoint disabled")
	} else {
		ops := &scheduler.OpsListener{Scheduler: sched}
		go func() {
			if err := ops.Serve(ctx, opsLn); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("mira serve: ops listener exited")
			}
		}()
		log.Info().Str("addr", opsLn.Addr().String()).Msg("mira serve: ops listener ready")
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	if err := wireServer.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		return err
	}
	sched.Wait()
	return nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
