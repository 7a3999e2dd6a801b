package display

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/metrics"
	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/world"
)

// RefreshOptions tune when a refresh reuses the previous snapshot.
type RefreshOptions struct {
	Build BuildOptions
	// BacklogThreshold is the queue depth above which a refresh is skipped.
	BacklogThreshold int
	// MaxSkips bounds consecutive skipped refreshes.
	MaxSkips int
	// MinMoveDelta is how far I must move before loot is rebuilt.
	MinMoveDelta float64
	Metrics      *metrics.Metrics
}

// Refresher publishes snapshots to a Board. It is driven by the consumer
// goroutine that owns the world.
type Refresher struct {
	opts   RefreshOptions
	board  *Board
	logger zerolog.Logger

	skips   int
	lastPos protocol.Vector3
	hasLast bool
}

func NewRefresher(board *Board, opts RefreshOptions) *Refresher {
	return &Refresher{
		opts:   opts,
		board:  board,
		logger: log.With().Str("component", "display").Logger(),
	}
}

// Board returns the board snapshots are published to.
func (r *Refresher) Board() *Board { return r.board }

// Refresh rebuilds and publishes the snapshot unless the consumer is
// behind by more than the backlog threshold or I barely moved; either
// reason reuses the previous rows at most MaxSkips times in a row. It
// reports whether a new snapshot was built.
func (r *Refresher) Refresh(w *world.State, backlog, packetNum int, sessionUUID string) bool {
	if reason := r.skipReason(w, backlog); reason != "" && r.skips < r.opts.MaxSkips {
		r.skips++
		r.opts.Metrics.RefreshSkipped()
		r.logger.Trace().
			Str("reason", reason).
			Int("backlog", backlog).
			Int("skips", r.skips).
			Msg("Refresh skipped")
		return false
	}

	s := Build(w, r.opts.Build)
	s.SessionUUID = sessionUUID
	s.PacketNum = packetNum
	r.skips = 0
	if w.Me != nil {
		r.lastPos, r.hasLast = w.Me.Position, true
	}
	r.opts.Metrics.World(len(s.Players), len(s.Loot))
	r.board.Publish(s)
	return true
}

// Force rebuilds regardless of the skip rules, as after a command.
func (r *Refresher) Force(w *world.State, packetNum int, sessionUUID string) {
	r.skips = r.opts.MaxSkips
	r.Refresh(w, 0, packetNum, sessionUUID)
}

// Reset forgets the last position, as at a new session.
func (r *Refresher) Reset() {
	r.skips = 0
	r.hasLast = false
}

func (r *Refresher) skipReason(w *world.State, backlog int) string {
	if r.opts.BacklogThreshold > 0 && backlog > r.opts.BacklogThreshold {
		return "backlog"
	}
	if r.opts.MinMoveDelta > 0 && r.hasLast && w.Me != nil &&
		world.Distance(r.lastPos, w.Me.Position) < r.opts.MinMoveDelta {
		return "still"
	}
	return ""
}
