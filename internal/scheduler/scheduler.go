// Package scheduler implements the Background Scheduler (spec §4.K): a
// ticker-driven loop that picks up projects flagged dirty by the watcher
// or indexer and runs a health scan, plus periodic Code-store compaction.
//
// Grounded on the teacher's internal/maintenance/service.go
// Start/Stop/Wait/Stats shape, generalized from a fixed conversational-
// memory cleanup task list to a dirty-project health-scan sweep.
package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mirahq/mira/internal/analytics"
	"github.com/mirahq/mira/internal/pool"
)

// Scheduler runs health scans for dirty projects on a timer and compacts
// the Code store periodically.
type Scheduler struct {
	log      zerolog.Logger
	pool     *pool.Pool
	scanner  *analytics.Scanner
	interval time.Duration
	meters   *Meters

	stopCh chan struct{}
	doneCh chan struct{}

	mu               sync.Mutex
	running          bool
	lastRunTime      time.Time
	lastRunDuration  time.Duration
	totalScans       int64
	totalCompactions int64
}

// New builds a Scheduler. interval is the dirty-sweep cadence (spec §4.K);
// callers typically derive it from config.Config.HealthScanIntervalSec.
func New(p *pool.Pool, scanner *analytics.Scanner, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		log:      log.With().Str("component", "scheduler").Logger(),
		pool:     p,
		scanner:  scanner,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// WithMeters attaches otel counters, recorded alongside the scheduler's
// own in-memory Stats.
func (s *Scheduler) WithMeters(m *Meters) *Scheduler {
	s.meters = m
	return s
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler: starting dirty-project sweep")

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	compactTicker := time.NewTicker(6 * time.Hour)
	defer compactTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler: shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("scheduler: shutting down due to stop signal")
			return
		case <-ticker.C:
			s.sweep(ctx)
		case <-compactTicker.C:
			s.compact(ctx)
		}
	}
}

// Stop signals the scheduler to stop; Wait blocks until it has.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
}

// Wait blocks until the scheduler's loop has returned.
func (s *Scheduler) Wait() { <-s.doneCh }

// sweep runs a health scan for every project currently flagged dirty.
func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()
	ids, err := s.dirtyProjectIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: failed to list dirty projects")
		return
	}

	var scanned int64
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.scanner.RunFullScan(ctx, id); err != nil {
			s.log.Error().Err(err).Int64("project_id", id).Msg("scheduler: health scan failed")
			continue
		}
		scanned++
		s.meters.RecordScan(ctx)
	}

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.lastRunDuration = time.Since(start)
	s.totalScans += scanned
	s.mu.Unlock()

	if scanned > 0 {
		s.log.Info().Int64("scanned", scanned).Dur("duration", time.Since(start)).Msg("scheduler: sweep completed")
	}
}

func (s *Scheduler) dirtyProjectIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.pool.Main.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT project_id FROM health_scan_state WHERE state = 'dirty'`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// compact runs pool.CompactCodeDB, reclaiming disk space from deleted
// chunk/symbol rows (spec §4.K "retention of aged ephemeral rows, cache
// compaction").
func (s *Scheduler) compact(ctx context.Context) {
	result, err := s.pool.CompactCodeDB(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: code store compaction failed")
		return
	}
	s.mu.Lock()
	s.totalCompactions++
	s.mu.Unlock()
	s.meters.RecordCompaction(ctx)
	s.log.Info().Int64("rows_preserved", result.RowsPreserved).
		Float64("estimated_savings_mb", result.EstimatedSavingsMB).
		Msg("scheduler: code store compacted")
}

// Stats reports scheduler counters for the ops listener's status line.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":           s.running,
		"interval_seconds":  s.interval.Seconds(),
		"last_run":          s.lastRunTime,
		"last_duration_ms":  s.lastRunDuration.Milliseconds(),
		"total_scans":       s.totalScans,
		"total_compactions": s.totalCompactions,
	}
}

// RunNow triggers an immediate out-of-band sweep, e.g. from the ops
// listener's STATUS command or a CLI "index" completion hook.
func (s *Scheduler) RunNow(ctx context.Context) {
	go s.sweep(ctx)
}
