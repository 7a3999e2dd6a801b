package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/transport"
)

// maxLineSize bounds one replay line; fragmented spawn packets can be large
// once hex encoded.
const maxLineSize = 16 << 20

// ReplayOptions configures a replay source.
type ReplayOptions struct {
	Path        string
	LocalPrefix string
	// Skip drops the first Skip packets.
	Skip int
	// Limit stops after Limit packets have been queued. Zero means all.
	Limit int
	Delay time.Duration
	// Strict fails on the first unreadable line instead of skipping it.
	Strict bool
}

// Replay reads packets from an NDJSON file.
type Replay struct {
	opts   ReplayOptions
	logger zerolog.Logger

	lines   atomic.Int64
	skipped atomic.Int64
	bad     atomic.Int64
	queued  atomic.Int64
}

var _ Source = (*Replay)(nil)

func NewReplay(opts ReplayOptions) *Replay {
	return &Replay{
		opts:   opts,
		logger: log.With().Str("component", "replay").Str("file", opts.Path).Logger(),
	}
}

func (r *Replay) Name() string { return "replay:" + r.opts.Path }

// Run replays the configured file.
func (r *Replay) Run(ctx context.Context, q *Queue) error {
	f, err := os.Open(r.opts.Path)
	if err != nil {
		return fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return r.Read(ctx, f, q)
}

// Read replays the records of src in order.
func (r *Replay) Read(ctx context.Context, src io.Reader, q *Queue) error {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var timer *time.Timer
	if r.opts.Delay > 0 {
		timer = time.NewTimer(r.opts.Delay)
		defer timer.Stop()
	}

	seen := 0
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		lineNo := r.lines.Add(1)

		pkt, ok, err := ParseRecord(raw, r.opts.LocalPrefix)
		if err != nil {
			r.bad.Add(1)
			if r.opts.Strict {
				return fmt.Errorf("line %d: %w: %w", lineNo, protocol.ErrFatalReplayMismatch, err)
			}
			r.logger.Warn().Err(err).Int64("line", lineNo).Msg("Unreadable replay line skipped")
			continue
		}
		if !ok {
			continue
		}

		seen++
		if seen <= r.opts.Skip {
			r.skipped.Add(1)
			continue
		}
		if err := q.Push(ctx, pkt); err != nil {
			return err
		}
		n := r.queued.Add(1)
		if r.opts.Limit > 0 && n >= int64(r.opts.Limit) {
			r.logger.Info().Int64("packets", n).Msg("Replay limit reached")
			return nil
		}

		if timer != nil {
			timer.Reset(r.opts.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read replay: %w", err)
	}
	r.logger.Info().
		Int64("lines", r.lines.Load()).
		Int64("queued", r.queued.Load()).
		Int64("skipped", r.skipped.Load()).
		Int64("bad", r.bad.Load()).
		Msg("Replay drained")
	return nil
}

// ReplayStats counts what a replay has read so far.
type ReplayStats struct {
	Lines   int64 `json:"lines"`
	Queued  int64 `json:"queued"`
	Skipped int64 `json:"skipped"`
	Bad     int64 `json:"bad"`
}

func (r *Replay) Stats() ReplayStats {
	return ReplayStats{
		Lines:   r.lines.Load(),
		Queued:  r.queued.Load(),
		Skipped: r.skipped.Load(),
		Bad:     r.bad.Load(),
	}
}

// ReadAll parses every record of src without a queue. Bad lines are
// returned as an error.
func ReadAll(src io.Reader, localPrefix string) ([]transport.Packet, error) {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var out []transport.Packet
	for n := 1; sc.Scan(); n++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		pkt, ok, err := ParseRecord(raw, localPrefix)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", n, err)
		}
		if ok {
			out = append(out, pkt)
		}
	}
	return out, sc.Err()
}
