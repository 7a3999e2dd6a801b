// Package engine runs the consumer loop: it drains the packet queue into the
// transport, owns the world of the current session, applies presentation
// commands and publishes snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/capture"
	"github.com/raidscope/raidscope/internal/display"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/game"
	"github.com/raidscope/raidscope/internal/metrics"
	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/transport"
	"github.com/raidscope/raidscope/internal/world"
)

const (
	DefaultProgressEvery   = 500
	DefaultRefreshInterval = time.Second
)

// ErrUnknownLoot is returned by a hide command for an id that is not a crate.
var ErrUnknownLoot = errors.New("unknown loot")

// Options configures an Engine.
type Options struct {
	QueueSize         int
	Strict            bool
	MaxFragmentGroups int
	World             world.Options
	Refresh           display.RefreshOptions
	RefreshInterval   time.Duration
	// ProgressEvery is the packet interval of the progress log.
	ProgressEvery int
	// PacketLog receives every live packet. Nil in replay mode.
	PacketLog *capture.PacketLog
	Bus       *events.Bus
	Metrics   *metrics.Metrics
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Source      string          `json:"source"`
	Running     bool            `json:"running"`
	Packets     int64           `json:"packets"`
	QueueLen    int             `json:"queue_len"`
	QueueCap    int             `json:"queue_cap"`
	SessionID   uint16          `json:"session_id"`
	SessionUUID string          `json:"session_uuid"`
	Sessions    int64           `json:"sessions"`
	Uptime      time.Duration   `json:"uptime"`
	Transport   transport.Stats `json:"transport"`
}

// Engine is the single consumer of a packet source.
type Engine struct {
	opts      Options
	source    capture.Source
	queue     *capture.Queue
	transport *transport.Transport
	game      *game.Dispatcher
	refresher *display.Refresher
	board     *display.Board
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	commands chan command
	stopped  chan struct{}
	stopOnce sync.Once
	wanted   map[string]bool

	hooksMu   sync.Mutex
	hooks     []func()
	hooksOnce sync.Once

	running   atomic.Bool
	packets   atomic.Int64
	sessions  atomic.Int64
	sessionID atomic.Uint32
	uuid      atomic.Value
	startedAt time.Time
}

// New wires a transport, a dispatcher and a refresher around src.
func New(src capture.Source, opts Options) *Engine {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Refresh.Metrics == nil {
		opts.Refresh.Metrics = opts.Metrics
	}

	e := &Engine{
		opts:     opts,
		source:   src,
		queue:    capture.NewQueue(opts.QueueSize),
		board:    display.NewBoard(),
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		logger:   log.With().Str("component", "engine").Logger(),
		commands: make(chan command),
		stopped:  make(chan struct{}),
		wanted:   make(map[string]bool),
	}
	for _, tpl := range opts.World.Loot.Wanted {
		e.wanted[tpl] = true
	}
	e.uuid.Store("")

	e.game = game.NewDispatcher(game.Options{World: opts.World, Strict: opts.Strict, Bus: opts.Bus})
	e.transport = transport.New(e.game, transport.Options{
		Strict:            opts.Strict,
		MaxFragmentGroups: opts.MaxFragmentGroups,
		Metrics:           opts.Metrics,
	})
	e.refresher = display.NewRefresher(e.board, opts.Refresh)

	e.transport.OnNewSession(e.game)
	e.transport.OnNewSession(transport.SessionFunc(e.newSession))
	if opts.PacketLog != nil {
		e.transport.OnNewSession(opts.PacketLog)
		e.OnShutdown(func() {
			if err := opts.PacketLog.Close(); err != nil {
				e.logger.Warn().Err(err).Msg("Packet log close failed")
			}
		})
	}
	if p, ok := src.(*capture.Process); ok {
		e.OnShutdown(func() {
			if err := p.Stop(); err != nil {
				e.logger.Warn().Err(err).Msg("Capture process stop failed")
			}
		})
	}
	return e
}

// Board is where snapshots are published.
func (e *Engine) Board() *display.Board { return e.board }

// Bus is the event bus the engine emits on.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Snapshot returns the latest published snapshot.
func (e *Engine) Snapshot() display.Snapshot { return e.board.Snapshot() }

// OnShutdown registers fn to run once when Run returns, before its context
// is cancelled.
func (e *Engine) OnShutdown(fn func()) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

func (e *Engine) shutdown() {
	e.hooksOnce.Do(func() {
		e.hooksMu.Lock()
		hooks := append([]func(){}, e.hooks...)
		e.hooksMu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}

func (e *Engine) Stats() Stats {
	var uptime time.Duration
	if e.running.Load() {
		uptime = time.Since(e.startedAt)
	}
	return Stats{
		Source:      e.source.Name(),
		Running:     e.running.Load(),
		Packets:     e.packets.Load(),
		QueueLen:    e.queue.Len(),
		QueueCap:    e.queue.Cap(),
		SessionID:   uint16(e.sessionID.Load()),
		SessionUUID: e.uuid.Load().(string),
		Sessions:    e.sessions.Load(),
		Uptime:      uptime,
		Transport:   e.transport.Stats(),
	}
}

// Run consumes the source until it is exhausted, ctx is done, or a fatal
// replay mismatch occurs. Exhausting a replay is not an error.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer e.shutdown()

	e.startedAt = time.Now()
	e.running.Store(true)
	defer e.stopOnce.Do(func() { close(e.stopped) })
	defer e.running.Store(false)

	srcErr := make(chan error, 1)
	go func() {
		err := e.source.Run(ctx, e.queue)
		e.queue.Close()
		srcErr <- err
	}()

	e.logger.Info().
		Str("source", e.source.Name()).
		Bool("strict", e.opts.Strict).
		Int("queue", e.queue.Cap()).
		Msg("Engine started")

	ticker := time.NewTicker(e.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case pkt, ok := <-e.queue.Packets():
			if !ok {
				return e.finish(ctx, <-srcErr)
			}
			if err := e.process(ctx, pkt); err != nil {
				e.logger.Error().Err(err).Int64("packet", e.packets.Load()).Msg("Fatal decode error, stopping")
				e.shutdown()
				cancel()
				return err
			}
			runtime.Gosched()

		case cmd := <-e.commands:
			cmd.reply <- e.apply(cmd)

		case <-ticker.C:
			e.refresh()

		case <-ctx.Done():
			e.logger.Info().Int64("packets", e.packets.Load()).Msg("Engine stopping")
			e.shutdown()
			return nil
		}
	}
}

func (e *Engine) finish(ctx context.Context, err error) error {
	e.refresher.Force(e.game.World(), int(e.packets.Load()), e.uuid.Load().(string))
	if err != nil {
		return fmt.Errorf("source %s: %w", e.source.Name(), err)
	}
	elapsed := time.Since(e.startedAt)
	e.logger.Info().
		Int64("packets", e.packets.Load()).
		Dur("elapsed", elapsed).
		Interface("transport", e.transport.Stats()).
		Msg("Source exhausted")
	if _, ok := e.source.(*capture.Replay); ok {
		e.bus.EmitSync(ctx, events.Event{
			Type:   events.EventReplayFinished,
			Source: "engine",
			Payload: events.ReplayFinishedPayload{
				Packets: int(e.packets.Load()),
				Elapsed: elapsed,
			},
		})
	}
	return nil
}

// process decodes one packet. Only fatal errors are returned; they already
// carry the packet number.
func (e *Engine) process(ctx context.Context, pkt transport.Packet) error {
	n := e.packets.Add(1)
	pkt.Num = int(n)

	err := e.transport.Process(ctx, pkt)

	if e.opts.PacketLog != nil {
		if werr := e.opts.PacketLog.Write(pkt); werr != nil {
			e.logger.Warn().Err(werr).Int64("packet", n).Msg("Packet log write failed")
		}
	}

	if n%int64(e.opts.ProgressEvery) == 0 {
		depth := e.queue.Len()
		e.metrics.QueueDepth(depth)
		c := e.game.World().Counts()
		e.logger.Info().
			Int64("packet", n).
			Int("queue", depth).
			Int("players", c.Players).
			Int("crates", c.Crates).
			Int("items", c.Items).
			Msg("Progress")
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, protocol.ErrFatalReplayMismatch) {
		return err
	}
	e.logger.Debug().Err(err).Int64("packet", n).Msg("Packet error")
	return nil
}

func (e *Engine) refresh() {
	depth := e.queue.Len()
	e.metrics.QueueDepth(depth)
	if e.refresher.Refresh(e.game.World(), depth, int(e.packets.Load()), e.uuid.Load().(string)) {
		e.bus.Emit(context.Background(), events.Event{
			Type:    events.EventSnapshot,
			Source:  "engine",
			Payload: e.board.Version(),
		})
	}
}

// newSession runs after the dispatcher built the new world.
func (e *Engine) newSession(ctx context.Context, sessionID uint16) {
	id := uuid.NewString()
	e.uuid.Store(id)
	e.sessionID.Store(uint32(sessionID))
	e.sessions.Add(1)
	e.refresher.Reset()

	w := e.game.World()
	for tpl := range e.wanted {
		w.Loot.Want(tpl)
	}

	e.logger.Info().Uint16("session", sessionID).Str("uuid", id).Msg("Session started")
	e.bus.Emit(ctx, events.Event{
		Type:    events.EventSessionStarted,
		Source:  "engine",
		Payload: events.SessionPayload{SessionID: sessionID, UUID: id},
	})
}

// wantedList is sorted. Wanted templates survive new sessions.
func (e *Engine) wantedList() []string {
	out := make([]string, 0, len(e.wanted))
	for tpl := range e.wanted {
		out = append(out, tpl)
	}
	sort.Strings(out)
	return out
}
