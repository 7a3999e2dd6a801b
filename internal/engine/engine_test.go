package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raidscope/raidscope/internal/capture"
	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/transport"
	"github.com/raidscope/raidscope/internal/world"
)

const session = 0x0102

func id(prefix string) string {
	return prefix + strings.Repeat("0", entity.IDLen-len(prefix))
}

func initPacket() transport.Packet {
	p := make([]byte, 12)
	p[2] = protocol.CtrlInit
	p[5] = byte(session & 0xff)
	p[6] = byte(session >> 8)
	return transport.Packet{Data: p, Incoming: true}
}

func dataPacket(body ...byte) transport.Packet {
	b := protocol.NewPacketBuilder().
		WriteUint16BE(0x1234).
		WriteUint16BE(7).
		WriteUint16BE(session).
		WriteBytes(make([]byte, protocol.AckBlockSize)).
		WriteBytes(body)
	return transport.Packet{Data: b.Build(), Incoming: true}
}

// message wraps one opcode in a bare channel frame.
func message(t *testing.T, op protocol.Opcode, payload []byte) []byte {
	t.Helper()
	body := protocol.NewPacketBuilder().
		WriteBytes([]byte{0x00, 0x01, 0x00}).
		WriteUint16(uint16(op)).
		WriteUint16(uint16(len(payload))).
		WriteBytes(payload).
		Build()
	n := len(body)
	if n >= 0x8000 {
		t.Fatalf("message too long: %d", n)
	}
	return append([]byte{5, byte(n>>8) | 0x80, byte(n)}, body...)
}

func crateSpawn(t *testing.T) transport.Packet {
	t.Helper()
	gpu := entity.GridItem{Item: &entity.Item{ID: id("gpu"), TemplateID: id("t-gpu"), StackCount: 1}}
	root := &entity.Item{ID: id("box"), TemplateID: id("t-box"), StackCount: 1,
		Grids: []entity.Grid{{ID: "main", Items: []entity.GridItem{gpu}}}}
	loot := &entity.JSONLoot{ID: id("l-box"), Position: protocol.Vector3{X: 3, Z: 4}, Item: root}

	list := protocol.NewPacketBuilder()
	if err := entity.EncodeMany(list, []entity.Entity{loot}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload := protocol.NewPacketBuilder().WriteSizedBytes(list.Build()).Build()
	return dataPacket(message(t, protocol.OpWorldSpawn, payload)...)
}

func testOptions(bus *events.Bus) Options {
	return Options{
		QueueSize: 8,
		World: world.Options{
			Describer: entity.StaticDescriber{
				id("t-box"): {Name: "Weapon box"},
				id("t-gpu"): {Name: "Graphics card", Price: 250000},
			},
			Loot: world.LootRules{Threshold: 100000},
		},
		RefreshInterval: time.Hour,
		ProgressEvery:   1,
		Bus:             bus,
	}
}

func writeReplay(t *testing.T, pkts ...transport.Packet) string {
	t.Helper()
	var sb strings.Builder
	for _, p := range pkts {
		rec, err := capture.MarshalRecord(p)
		if err != nil {
			t.Fatal(err)
		}
		sb.Write(rec)
		sb.WriteByte('\n')
	}
	p := filepath.Join(t.TempDir(), "session.ndjson")
	if err := os.WriteFile(p, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// blockingSource pushes its packets and then waits for cancellation.
type blockingSource struct {
	pkts []transport.Packet
}

func (s *blockingSource) Name() string { return "test" }

func (s *blockingSource) Run(ctx context.Context, q *capture.Queue) error {
	for _, p := range s.pkts {
		if err := q.Push(ctx, p); err != nil {
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineReplay(t *testing.T) {
	bus := events.NewBus()
	path := writeReplay(t, initPacket(), crateSpawn(t))
	e := New(capture.NewReplay(capture.ReplayOptions{Path: path}), testOptions(bus))

	var hooked atomic.Int32
	e.OnShutdown(func() { hooked.Add(1) })

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := e.Stats()
	if st.Packets != 2 || st.Sessions != 1 || st.SessionID != session || st.SessionUUID == "" {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.Running {
		t.Errorf("expected the engine to be stopped")
	}

	snap := e.Snapshot()
	if len(snap.Loot) != 1 || snap.Loot[0].ID != id("l-box") || snap.Loot[0].Distance != 5 {
		t.Errorf("expected one crate at 5m, got %+v", snap.Loot)
	}
	if snap.SessionUUID != st.SessionUUID {
		t.Errorf("expected the snapshot to carry the session uuid")
	}
	if bus.Emitted(events.EventSessionStarted) != 1 || bus.Emitted(events.EventReplayFinished) != 1 {
		t.Errorf("expected session and replay events, got %d / %d",
			bus.Emitted(events.EventSessionStarted), bus.Emitted(events.EventReplayFinished))
	}
	if hooked.Load() != 1 {
		t.Errorf("expected shutdown hooks to run once, got %d", hooked.Load())
	}
}

func TestEngineStrictStops(t *testing.T) {
	path := writeReplay(t, initPacket(), dataPacket(0x09), crateSpawn(t))
	opts := testOptions(nil)
	opts.Strict = true
	e := New(capture.NewReplay(capture.ReplayOptions{Path: path}), opts)

	var hooked atomic.Bool
	e.OnShutdown(func() { hooked.Store(true) })

	err := e.Run(context.Background())
	if !errors.Is(err, protocol.ErrFatalReplayMismatch) {
		t.Fatalf("expected a fatal mismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "packet 2") {
		t.Errorf("expected the packet number in %q", err)
	}
	if !hooked.Load() {
		t.Errorf("expected shutdown hooks to run")
	}
}

func TestEngineLenientContinues(t *testing.T) {
	path := writeReplay(t, initPacket(), dataPacket(0x09), crateSpawn(t))
	e := New(capture.NewReplay(capture.ReplayOptions{Path: path}), testOptions(nil))
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Stats().Transport.Anomalies != 1 || len(e.Snapshot().Loot) != 1 {
		t.Errorf("expected one anomaly and the crate, got %+v", e.Stats().Transport)
	}
}

func TestEngineCommands(t *testing.T) {
	src := &blockingSource{pkts: []transport.Packet{initPacket(), crateSpawn(t)}}
	e := New(src, testOptions(nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Hide(ctx, id("l-box")); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	waitFor(t, func() bool { return e.Stats().Packets == 2 })

	if err := e.Want(ctx, id("t-gpu")); err != nil {
		t.Fatalf("want: %v", err)
	}
	if loot := e.Snapshot().Loot; len(loot) != 1 || !loot[0].Wanted {
		t.Errorf("expected the crate to be wanted, got %+v", loot)
	}
	if err := e.Hide(ctx, id("l-box")); err != nil {
		t.Fatalf("hide: %v", err)
	}
	if snap := e.Snapshot(); len(snap.Loot) != 0 || snap.Hidden != 1 {
		t.Errorf("expected the crate hidden, got %d visible, %d hidden", len(snap.Loot), snap.Hidden)
	}
	if err := e.Hide(ctx, id("nope")); !errors.Is(err, ErrUnknownLoot) {
		t.Errorf("expected ErrUnknownLoot, got %v", err)
	}
	if err := e.Want(ctx, "short"); !errors.Is(err, entity.ErrBadID) {
		t.Errorf("expected ErrBadID, got %v", err)
	}
	if err := e.Do(ctx, "explode", ""); err == nil {
		t.Errorf("expected an unknown command error")
	}
	if err := e.Unwant(ctx, id("t-gpu")); err != nil {
		t.Errorf("unwant: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected a clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngineCommandAfterStop(t *testing.T) {
	e := New(&blockingSource{}, testOptions(nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	waitFor(t, func() bool { return e.Stats().Running })
	cancel()
	<-done

	// a caller that saw the engine running just before it stopped
	e.running.Store(true)
	defer e.running.Store(false)

	errc := make(chan error, 1)
	go func() { errc <- e.Hide(context.Background(), id("l-box")) }()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrNotRunning) {
			t.Errorf("expected ErrNotRunning, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command blocked after the engine stopped")
	}
}
