// Package health runs periodic checks on the decode engine: queue backlog,
// stalled sources, the anomaly rate and free disk for packet logs.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/config"
	"github.com/raidscope/raidscope/internal/engine"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/util"
)

// Status values of a Report.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusStopped  = "stopped"
)

// StatsSource is what the manager watches. *engine.Engine implements it.
type StatsSource interface {
	Stats() engine.Stats
}

// Report is the outcome of one round of checks.
type Report struct {
	Status    string       `json:"status"`
	Problems  []string     `json:"problems,omitempty"`
	Engine    engine.Stats `json:"engine"`
	Usage     util.Usage   `json:"usage"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Manager runs the checks on a ticker and keeps the last report.
type Manager struct {
	cfg    config.HealthConfig
	src    StatsSource
	bus    *events.Bus
	logDir string
	logger zerolog.Logger
	// usage is swapped in tests to avoid reading the host.
	usage func(dir string) (util.Usage, error)

	mu          sync.RWMutex
	last        Report
	lastPackets int64
	lastAnom    uint64
	stalledFor  time.Duration
}

// NewManager creates a manager over src. logDir is the packet log
// directory whose free space is checked; empty skips the disk check.
func NewManager(cfg config.HealthConfig, src StatsSource, bus *events.Bus, logDir string) *Manager {
	if cfg.IntervalSec <= 0 {
		cfg.IntervalSec = 30
	}
	return &Manager{
		cfg:    cfg,
		src:    src,
		bus:    bus,
		logDir: logDir,
		logger: log.With().Str("component", "health").Logger(),
		usage:  util.GetUsage,
		last:   Report{Status: StatusStopped},
	}
}

func (m *Manager) interval() time.Duration {
	return time.Duration(m.cfg.IntervalSec) * time.Second
}

// Start checks immediately and then on every interval until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval()).Msg("health check manager started")
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Last returns the most recent report.
func (m *Manager) Last() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Check runs one round, stores the report and emits it on the bus.
func (m *Manager) Check(ctx context.Context) Report {
	st := m.src.Stats()
	r := Report{Status: StatusOK, Engine: st, CheckedAt: time.Now()}

	m.mu.Lock()
	switch {
	case !st.Running:
		r.Status = StatusStopped
		m.stalledFor = 0
	default:
		if st.QueueCap > 0 && m.cfg.BacklogRatio > 0 &&
			float64(st.QueueLen) >= m.cfg.BacklogRatio*float64(st.QueueCap) {
			r.Problems = append(r.Problems, fmt.Sprintf("queue backlog %d of %d", st.QueueLen, st.QueueCap))
		}

		if st.Packets == m.lastPackets {
			m.stalledFor += m.interval()
		} else {
			m.stalledFor = 0
		}
		if m.cfg.StallSec > 0 && m.stalledFor >= time.Duration(m.cfg.StallSec)*time.Second {
			r.Problems = append(r.Problems, fmt.Sprintf("no packets for %s", m.stalledFor))
		}

		if d := st.Transport.Anomalies - m.lastAnom; st.Packets > m.lastPackets && d > 0 {
			rate := float64(d) / float64(st.Packets-m.lastPackets)
			if rate > 0.1 {
				r.Problems = append(r.Problems, fmt.Sprintf("anomaly rate %.0f%%", rate*100))
			}
		}
	}
	m.lastPackets = st.Packets
	m.lastAnom = st.Transport.Anomalies
	m.mu.Unlock()

	if u, err := m.usage(m.logDir); err != nil {
		m.logger.Debug().Err(err).Msg("usage read failed")
	} else {
		r.Usage = u
		if m.logDir != "" && m.cfg.MinDiskMB > 0 && u.DiskFreeMB < m.cfg.MinDiskMB {
			r.Problems = append(r.Problems, fmt.Sprintf("%d MB free for packet logs", u.DiskFreeMB))
		}
	}

	if len(r.Problems) > 0 && r.Status == StatusOK {
		r.Status = StatusDegraded
		m.logger.Warn().Strs("problems", r.Problems).Msg("engine degraded")
	} else {
		m.logger.Debug().Str("status", r.Status).Int64("packets", st.Packets).Msg("health check")
	}

	m.mu.Lock()
	m.last = r
	m.mu.Unlock()

	m.bus.Emit(ctx, events.Event{Type: events.EventHealth, Source: "health", Payload: r})
	return r
}
