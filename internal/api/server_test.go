package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raidscope/raidscope/internal/config"
	"github.com/raidscope/raidscope/internal/display"
	"github.com/raidscope/raidscope/internal/engine"
	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/events"
)

type fakeEngine struct {
	mu       sync.Mutex
	snap     display.Snapshot
	running  bool
	commands []string
}

func (f *fakeEngine) Snapshot() display.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) Stats() engine.Stats {
	return engine.Stats{Source: "fake", Running: f.running, Packets: 42}
}

func (f *fakeEngine) Do(ctx context.Context, kind engine.CommandKind, arg string) error {
	if !f.running {
		return engine.ErrNotRunning
	}
	switch {
	case arg == "missing":
		return engine.ErrUnknownLoot
	case arg == "short":
		return entity.ErrBadID
	}
	f.mu.Lock()
	f.commands = append(f.commands, string(kind)+":"+arg)
	f.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T, e *fakeEngine, board *display.Board) (*Server, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), config.DefaultConfigFile))
	cfg.Logging.Directory = t.TempDir()
	bus := events.NewBus()
	t.Cleanup(bus.Stop)
	s := NewServer(cfg, bus, Deps{
		Engine:   e,
		Board:    board,
		Gatherer: prometheus.NewRegistry(),
		Version:  "1.2.3",
	})
	t.Cleanup(func() { s.Hub().Close() })
	return s, bus
}

func sampleSnapshot() display.Snapshot {
	return display.Snapshot{
		SessionID: 7,
		Players: []display.PlayerRow{
			{ID: "p1", Nickname: "alive", Alive: true},
			{ID: "p2", Nickname: "dead"},
		},
		Loot: []display.LootRow{
			{ID: "l1", Name: "cheap", Price: 10},
			{ID: "l2", Name: "gpu", Price: 250000, Wanted: true},
		},
		Hidden: 3,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestPingAndStatus(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{running: true}, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/public/ping", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if v := decode(t, rec)["version"]; v != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %v", v)
	}
	if got := rec.Header().Get("Server"); got != "raidscope" {
		t.Errorf("expected Server header raidscope, got %q", got)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/status", "")
	if st := decode(t, rec)["status"]; st != "running" {
		t.Errorf("expected running, got %v", st)
	}
}

func TestSnapshotRoutes(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{running: true, snap: sampleSnapshot()}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/players?alive=true", "")
	if total := decode(t, rec)["total"]; total != float64(1) {
		t.Errorf("expected 1 alive player, got %v", total)
	}

	rec = do(t, h, http.MethodGet, "/api/loot?min_price=100", "")
	m := decode(t, rec)
	if m["total"] != float64(1) || m["hidden"] != float64(3) {
		t.Errorf("expected 1 row and 3 hidden, got %v", m)
	}

	rec = do(t, h, http.MethodGet, "/api/loot?wanted=true", "")
	if total := decode(t, rec)["total"]; total != float64(1) {
		t.Errorf("expected 1 wanted row, got %v", total)
	}

	rec = do(t, h, http.MethodGet, "/api/loot?min_price=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on a bad min_price, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/snapshot", "")
	var snap display.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.SessionID != 7 || len(snap.Loot) != 2 {
		t.Errorf("expected the full snapshot, got %+v", snap)
	}
}

func TestCommandStatusCodes(t *testing.T) {
	e := &fakeEngine{running: true}
	s, _ := newTestServer(t, e, nil)
	h := s.Handler()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/api/loot/abc/hide", http.StatusOK},
		{http.MethodPost, "/api/loot/missing/hide", http.StatusNotFound},
		{http.MethodPost, "/api/wanted/short", http.StatusBadRequest},
		{http.MethodPost, "/api/wanted/5c0e531286f7747fa54205c2", http.StatusOK},
		{http.MethodDelete, "/api/wanted/5c0e531286f7747fa54205c2", http.StatusOK},
	}
	for _, tc := range cases {
		if rec := do(t, h, tc.method, tc.path, ""); rec.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
	if len(e.commands) != 3 || e.commands[0] != "hide:abc" || e.commands[2] != "unwant:5c0e531286f7747fa54205c2" {
		t.Errorf("expected three applied commands, got %v", e.commands)
	}

	e.running = false
	if rec := do(t, h, http.MethodPost, "/api/loot/abc/hide", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when stopped, got %d", rec.Code)
	}
}

func TestItemsWithoutCatalog(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{running: true}, nil)
	if rec := do(t, s.Handler(), http.MethodGet, "/api/items?q=gpu", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestUpdateConfig(t *testing.T) {
	s, bus := newTestServer(t, &fakeEngine{running: true}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/config/loot", `{"key":"price_threshold","value":50000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.cfg.Loot.PriceThreshold != 50000 {
		t.Errorf("expected threshold 50000, got %d", s.cfg.Loot.PriceThreshold)
	}
	deadline := time.Now().Add(time.Second)
	for bus.Emitted(events.EventConfigChanged) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := bus.Emitted(events.EventConfigChanged); n != 1 {
		t.Errorf("expected 1 config event, got %d", n)
	}

	rec = do(t, h, http.MethodPost, "/api/config/health", `{"key":"backlog_ratio","value":2}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if s.cfg.Health.BacklogRatio != 0.8 {
		t.Errorf("expected the old ratio restored, got %v", s.cfg.Health.BacklogRatio)
	}

	rec = do(t, h, http.MethodPost, "/api/config/loot", `{"key":"nope","value":1}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown key, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/config", "")
	if !strings.Contains(rec.Body.String(), `"price_threshold": 50000`) {
		t.Errorf("expected the updated config, got %s", rec.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("expected the burst to pass")
	}
	if rl.Allow("a") {
		t.Error("expected the third request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("expected another client to have its own bucket")
	}
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("expected a token after one second")
	}

	if !NewRateLimiter(0).Allow("a") {
		t.Error("expected zero rps to disable limiting")
	}
}

func TestDashboardFallback(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{running: true}, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/some/page", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<title>raidscope</title>") {
		t.Errorf("expected the dashboard, got %d", rec.Code)
	}
	rec = do(t, s.Handler(), http.MethodGet, "/api/nothing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 under /api, got %d", rec.Code)
	}
}

func readServerMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebsocket(t *testing.T) {
	e := &fakeEngine{running: true, snap: sampleSnapshot()}
	board := display.NewBoard()
	s, _ := newTestServer(t, e, board)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	first := readServerMessage(t, conn)
	if first.Type != MsgSnapshot || first.Data == nil || first.Data.SessionID != 7 {
		t.Fatalf("expected the initial snapshot, got %+v", first)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "hide", Arg: "l1", Seq: 1}); err != nil {
		t.Fatal(err)
	}
	if ack := readServerMessage(t, conn); ack.Type != MsgAck || ack.Seq != 1 {
		t.Errorf("expected ack 1, got %+v", ack)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "hide", Arg: "missing", Seq: 2}); err != nil {
		t.Fatal(err)
	}
	if nack := readServerMessage(t, conn); nack.Type != MsgError || nack.Seq != 2 || nack.Error == "" {
		t.Errorf("expected error 2, got %+v", nack)
	}

	board.Publish(display.Snapshot{SessionID: 9})
	if pushed := readServerMessage(t, conn); pushed.Type != MsgSnapshot || pushed.Data.SessionID != 9 {
		t.Errorf("expected the published snapshot, got %+v", pushed)
	}
	if n := s.Hub().ClientCount(); n != 1 {
		t.Errorf("expected 1 client, got %d", n)
	}

	s.Hub().Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}
