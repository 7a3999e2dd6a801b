// Package scheduler runs the background housekeeping of raidscope: the daily
// item catalog re-import, packet log retention and log file cleanup.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/config"
	"github.com/raidscope/raidscope/internal/util"
)

// Importer reloads item templates from a directory. *itemdb.Catalog
// implements it.
type Importer interface {
	ImportDir(dir string) (int, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	importer Importer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewScheduler creates a task scheduler. importer may be nil when no item
// catalog is open.
func NewScheduler(cfg *config.Config, importer Importer) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		importer: importer,
		logger:   log.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

// Start runs every enabled task until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	if s.importer != nil && s.cfg.ItemDB.ImportDir != "" && s.cfg.ItemDB.ReimportTime != "" {
		go s.daily(ctx, "itemdb_reimport", s.cfg.ItemDB.ReimportTime, s.reimport)
	}
	go s.every(ctx, "housekeeping", time.Hour, s.housekeeping)

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

// daily runs fn at clock (HH:MM) every day.
func (s *Scheduler) daily(ctx context.Context, name, clock string, fn func()) {
	for {
		next, err := NextRun(s.now(), clock)
		if err != nil {
			s.logger.Error().Err(err).Str("task", name).Msg("task disabled")
			return
		}
		s.logger.Info().Str("task", name).Time("next_run", next).Msg("task scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn()
		}
	}
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Debug().Str("task", name).Dur("interval", interval).Msg("task scheduled")
	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (s *Scheduler) reimport() {
	dir := s.cfg.ItemDB.ImportDir
	n, err := s.importer.ImportDir(dir)
	if err != nil {
		s.logger.Warn().Err(err).Str("dir", dir).Msg("item catalog re-import failed")
		return
	}
	s.logger.Info().Int("items", n).Str("dir", dir).Msg("item catalog re-imported")
}

func (s *Scheduler) housekeeping() {
	pl := s.cfg.PacketLog
	if pl.RetentionDays > 0 && pl.Directory != "" {
		n, size := PrunePacketLogs(pl.Directory, time.Duration(pl.RetentionDays)*24*time.Hour, s.now())
		if n > 0 {
			s.logger.Info().
				Int("deleted_files", n).
				Str("freed_space", formatBytes(size)).
				Msg("old packet logs removed")
		}
	}
	util.CleanOldLogs(s.cfg.Logging.Directory, s.cfg.Logging.MaxBackups)
}

// PrunePacketLogs deletes packet logs (plain or compressed) in dir whose
// modification time is older than retention. It returns the number of
// files and bytes removed.
func PrunePacketLogs(dir string, retention time.Duration, now time.Time) (int, int64) {
	var (
		deletedCount int
		deletedSize  int64
	)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".packet.log") || strings.HasSuffix(name, ".packet.log.zst")) {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) <= retention {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			deletedCount++
			deletedSize += info.Size()
		}
	}
	return deletedCount, deletedSize
}

// NextRun returns the first time at clock (HH:MM) strictly after now.
func NextRun(now time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad clock %q: %w", clock, err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next, nil
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
