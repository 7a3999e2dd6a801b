package health

import (
	"context"
	"testing"

	"github.com/raidscope/raidscope/internal/config"
	"github.com/raidscope/raidscope/internal/engine"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/transport"
	"github.com/raidscope/raidscope/internal/util"
)

type fakeSource struct{ st engine.Stats }

func (f *fakeSource) Stats() engine.Stats { return f.st }

func newManager(src StatsSource, free uint64) *Manager {
	cfg := config.HealthConfig{IntervalSec: 30, BacklogRatio: 0.5, StallSec: 60, MinDiskMB: 100}
	m := NewManager(cfg, src, events.NewBus(), "logs")
	m.usage = func(string) (util.Usage, error) { return util.Usage{DiskFreeMB: free}, nil }
	return m
}

func TestCheckStopped(t *testing.T) {
	m := newManager(&fakeSource{}, 1000)
	if r := m.Check(context.Background()); r.Status != StatusStopped {
		t.Errorf("expected stopped, got %s", r.Status)
	}
}

func TestCheckHealthy(t *testing.T) {
	src := &fakeSource{st: engine.Stats{Running: true, Packets: 10, QueueCap: 100}}
	m := newManager(src, 1000)
	r := m.Check(context.Background())
	if r.Status != StatusOK || len(r.Problems) != 0 {
		t.Fatalf("expected ok, got %s %v", r.Status, r.Problems)
	}
	if m.Last().Engine.Packets != 10 {
		t.Errorf("expected the last report stored")
	}
}

func TestCheckProblems(t *testing.T) {
	src := &fakeSource{st: engine.Stats{Running: true, Packets: 10, QueueLen: 60, QueueCap: 100}}
	m := newManager(src, 10)
	ctx := context.Background()

	r := m.Check(ctx)
	if r.Status != StatusDegraded || len(r.Problems) != 2 {
		t.Fatalf("expected backlog and disk problems, got %v", r.Problems)
	}

	// Same packet count twice more: stalled for 60s.
	src.st.QueueLen = 0
	m.usage = func(string) (util.Usage, error) { return util.Usage{DiskFreeMB: 1000}, nil }
	m.Check(ctx)
	r = m.Check(ctx)
	if len(r.Problems) != 1 {
		t.Fatalf("expected a stall, got %v", r.Problems)
	}

	src.st.Packets = 20
	src.st.Transport = transport.Stats{Anomalies: 5}
	r = m.Check(ctx)
	if len(r.Problems) != 1 {
		t.Fatalf("expected only the anomaly rate, got %v", r.Problems)
	}
}
