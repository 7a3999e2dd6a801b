// Package transport turns raw game session packets into ordered logical
// messages: control packets, session trust, the acknowledgement block,
// nested delimiter frames and fragment reassembly.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/metrics"
	"github.com/raidscope/raidscope/internal/protocol"
)

// Options configures a Transport.
type Options struct {
	// Strict turns every anomaly and handler error into
	// protocol.ErrFatalReplayMismatch.
	Strict            bool
	MaxFragmentGroups int
	Metrics           *metrics.Metrics
}

// Stats is a point-in-time copy of the transport counters.
type Stats struct {
	Packets            uint64 `json:"packets"`
	Dropped            uint64 `json:"dropped"`
	Untrusted          uint64 `json:"untrusted"`
	Messages           uint64 `json:"messages"`
	FragmentsCompleted uint64 `json:"fragments_completed"`
	Anomalies          uint64 `json:"anomalies"`
	HandlerErrors      uint64 `json:"handler_errors"`
	Sessions           uint64 `json:"sessions"`
}

type counters struct {
	packets, dropped, untrusted, messages  atomic.Uint64
	fragments, anomalies, handlerErrs, ses atomic.Uint64
}

// Transport is the framing state machine. Process must be called from a
// single goroutine; Stats may be called from any.
type Transport struct {
	handler   MessageHandler
	listeners []SessionListener
	sessions  *Sessions
	frags     *FragmentAssembler
	strict    bool
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	counters  counters
}

// New creates a transport delivering messages to handler.
func New(handler MessageHandler, opts Options) *Transport {
	return &Transport{
		handler:  handler,
		sessions: NewSessions(),
		frags:    NewFragmentAssembler(opts.MaxFragmentGroups),
		strict:   opts.Strict,
		metrics:  opts.Metrics,
		logger:   log.With().Str("component", "transport").Logger(),
	}
}

// OnNewSession registers a listener for init control packets.
func (t *Transport) OnNewSession(l SessionListener) {
	t.listeners = append(t.listeners, l)
}

// TrustSession marks a session id as trusted without a control packet.
func (t *Transport) TrustSession(id uint16) {
	t.sessions.Trust(id)
}

// CurrentSession returns the id of the last init control packet.
func (t *Transport) CurrentSession() (uint16, bool) {
	return t.sessions.Current()
}

// Strict reports whether anomalies are fatal.
func (t *Transport) Strict() bool {
	return t.strict
}

func (t *Transport) Stats() Stats {
	c := &t.counters
	return Stats{
		Packets:            c.packets.Load(),
		Dropped:            c.dropped.Load(),
		Untrusted:          c.untrusted.Load(),
		Messages:           c.messages.Load(),
		FragmentsCompleted: c.fragments.Load(),
		Anomalies:          c.anomalies.Load(),
		HandlerErrors:      c.handlerErrs.Load(),
		Sessions:           c.ses.Load(),
	}
}

// frame carries per-packet context through extraction.
type frame struct {
	pkt      Packet
	packetID uint16
	session  uint16
}

func (t *Transport) drop(pkt Packet, reason string) {
	t.counters.dropped.Add(1)
	t.metrics.Dropped(reason)
	t.logger.Debug().Int("packet", pkt.Num).Int("len", len(pkt.Data)).Str("reason", reason).Msg("packet dropped")
}

// anomaly records err. It returns a fatal error in strict mode and nil
// otherwise.
func (t *Transport) anomaly(pkt Packet, err error) error {
	t.counters.anomalies.Add(1)
	t.metrics.Anomaly()
	t.logger.Warn().Err(err).Int("packet", pkt.Num).Int("len", len(pkt.Data)).
		Bool("incoming", pkt.Incoming).Msg("protocol anomaly")
	if t.strict {
		return fmt.Errorf("packet %d: %w: %w", pkt.Num, protocol.ErrFatalReplayMismatch, err)
	}
	return nil
}

// Process consumes one packet. It only returns an error in strict mode or
// when ctx is done.
func (t *Transport) Process(ctx context.Context, pkt Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.counters.packets.Add(1)
	t.metrics.Packet(pkt.Incoming)

	data := pkt.Data
	if len(data) < protocol.MinPacketSize {
		t.drop(pkt, "short")
		return nil
	}

	if binary.BigEndian.Uint16(data[0:2]) == 0 {
		return t.control(ctx, pkt)
	}
	return t.data(ctx, pkt)
}

func (t *Transport) control(ctx context.Context, pkt Packet) error {
	data := pkt.Data
	switch op := data[2]; op {
	case protocol.CtrlPlayerExit:
		t.logger.Debug().Int("packet", pkt.Num).Msg("player exit control packet")
		return nil

	case protocol.CtrlHeartbeat:
		if len(data) != protocol.HeartbeatPacketSize {
			return t.anomaly(pkt, fmt.Errorf("heartbeat of %d bytes: %w", len(data), ErrBadControl))
		}
		id := binary.LittleEndian.Uint16(data[25:27])
		if !t.sessions.Trusted(id) {
			t.logger.Debug().Uint16("session", id).Msg("session trusted by heartbeat")
		}
		t.sessions.Trust(id)
		return nil

	case protocol.CtrlInit:
		if len(data) < 7 {
			return t.anomaly(pkt, fmt.Errorf("init of %d bytes: %w", len(data), ErrBadControl))
		}
		id := binary.LittleEndian.Uint16(data[5:7])
		t.newSession(ctx, id)
		return nil

	default:
		t.drop(pkt, "control")
		return nil
	}
}

// newSession resets transport state and trusts only id, then notifies
// listeners.
func (t *Transport) newSession(ctx context.Context, id uint16) {
	t.logger.Info().Uint16("session", id).Msg("new session")
	t.frags.Reset()
	t.sessions.Start(id)
	t.counters.ses.Add(1)
	t.metrics.SessionStarted()
	for _, l := range t.listeners {
		l.NewSession(ctx, id)
	}
}

func (t *Transport) data(ctx context.Context, pkt Packet) error {
	data := pkt.Data
	if len(data) < protocol.DataHeaderSize {
		return t.anomaly(pkt, fmt.Errorf("data packet of %d bytes: %w", len(data), ErrTruncatedHeader))
	}
	f := &frame{
		pkt:      pkt,
		packetID: binary.BigEndian.Uint16(data[2:4]),
		session:  binary.BigEndian.Uint16(data[4:6]),
	}
	if !t.sessions.Trusted(f.session) {
		t.counters.untrusted.Add(1)
		t.drop(pkt, "untrusted")
		t.logger.Trace().Err(ErrUntrustedSession).Uint16("session", f.session).Msg("skip packet")
		return nil
	}

	rest := data[protocol.DataHeaderSize:]
	if len(rest) < protocol.AckBlockSize {
		return t.anomaly(pkt, fmt.Errorf("ack block of %d bytes: %w", len(rest), ErrTruncatedHeader))
	}
	rest = rest[protocol.AckBlockSize:]
	if len(rest) == 0 {
		return nil
	}
	if len(rest) < 2 {
		return t.anomaly(pkt, fmt.Errorf("%d byte body: %w", len(rest), ErrLeftoverBytes))
	}

	if err := t.extract(ctx, f, rest); err != nil {
		if errors.Is(err, protocol.ErrFatalReplayMismatch) || ctx.Err() != nil {
			return err
		}
		return t.anomaly(pkt, err)
	}
	return nil
}

// splitHeader reads a channel and length header and returns the body and
// the bytes after it.
func splitHeader(buf []byte) (channel byte, body, rest []byte, err error) {
	if len(buf) < 2 {
		return 0, nil, nil, fmt.Errorf("%d bytes: %w", len(buf), ErrTruncatedHeader)
	}
	channel = buf[0]
	var n int
	if buf[1]&0x80 != 0 {
		if len(buf) < 3 {
			return 0, nil, nil, fmt.Errorf("long length: %w", ErrTruncatedHeader)
		}
		n = int(binary.BigEndian.Uint16(buf[1:3]) & 0x7fff)
		buf = buf[3:]
	} else {
		n = int(buf[1])
		buf = buf[2:]
	}
	if n > len(buf) {
		return 0, nil, nil, fmt.Errorf("channel %d wants %d bytes, has %d: %w", channel, n, len(buf), ErrTruncatedMessage)
	}
	return channel, buf[:n], buf[n:], nil
}

// extract walks the top level of a packet body.
func (t *Transport) extract(ctx context.Context, f *frame, buf []byte) error {
	for len(buf) > 0 {
		switch ch := buf[0]; {
		case ch == protocol.ChanDelimiter:
			_, body, after, err := splitHeader(buf)
			if err != nil {
				return fmt.Errorf("delimiter: %w", err)
			}
			if len(body) < protocol.OrderIDSize {
				return fmt.Errorf("delimiter body of %d bytes: %w", len(body), ErrTruncatedMessage)
			}
			if err := t.scanDelimited(ctx, f, body[protocol.OrderIDSize:]); err != nil {
				return err
			}
			buf = after

		case ch == protocol.ChanCombined, protocol.IsFragmentChannel(ch):
			return fmt.Errorf("channel %d outside a delimiter: %w", ch, ErrUnexpectedChannel)

		default:
			if len(buf) <= 2 {
				return fmt.Errorf("%d trailing bytes: %w", len(buf), ErrLeftoverBytes)
			}
			_, body, rest, err := splitHeader(buf)
			if err != nil {
				return err
			}
			if err := t.ordinary(ctx, f, ch, body); err != nil {
				return err
			}
			buf = rest
		}
	}
	return nil
}

// scanDelimited walks the messages nested in a delimiter frame.
func (t *Transport) scanDelimited(ctx context.Context, f *frame, buf []byte) error {
	for len(buf) > 0 {
		ch := buf[0]
		switch {
		case protocol.IsFragmentChannel(ch):
			_, body, rest, err := splitHeader(buf)
			if err != nil {
				return fmt.Errorf("fragment: %w", err)
			}
			buf = rest
			if len(body) < protocol.FragmentHeaderSize {
				return fmt.Errorf("fragment body of %d bytes: %w", len(body), ErrBadFragment)
			}
			frag := Fragment{ID: body[0], Index: body[1], Total: body[2], Data: body[protocol.FragmentHeaderSize:]}
			assembled, done, err := t.frags.Add(f.pkt.Incoming, ch, frag)
			if err != nil {
				if ferr := t.anomaly(f.pkt, err); ferr != nil {
					return ferr
				}
				continue
			}
			if !done {
				continue
			}
			t.counters.fragments.Add(1)
			t.metrics.FragmentCompleted()
			t.logger.Debug().Int("packet", f.pkt.Num).Uint8("channel", ch).Uint8("fragment", frag.ID).
				Int("len", len(assembled)).Msg("fragments assembled")
			if err := t.triplets(ctx, f, ch, assembled, true); err != nil {
				return err
			}

		case ch == protocol.ChanCombined:
			buf = buf[1:]

		default:
			_, body, rest, err := splitHeader(buf)
			if err != nil {
				return err
			}
			if err := t.ordinary(ctx, f, ch, body); err != nil {
				return err
			}
			buf = rest
		}
	}
	return nil
}

// ordinary strips the message id and order id of a non-fragmented message.
func (t *Transport) ordinary(ctx context.Context, f *frame, ch byte, body []byte) error {
	const prefix = protocol.MessageIDSize + 1
	if len(body) < prefix {
		return fmt.Errorf("channel %d body of %d bytes: %w", ch, len(body), ErrTruncatedMessage)
	}
	return t.triplets(ctx, f, ch, body[prefix:], false)
}

// triplets delivers every {op, len, payload} record in buf. Up to three
// trailing bytes are padding.
func (t *Transport) triplets(ctx context.Context, f *frame, ch byte, buf []byte, fragmented bool) error {
	for len(buf) >= protocol.MessageHeaderSize {
		op := protocol.Opcode(binary.LittleEndian.Uint16(buf[0:2]))
		n := int(binary.LittleEndian.Uint16(buf[2:4]))
		buf = buf[protocol.MessageHeaderSize:]
		if n > len(buf) {
			return fmt.Errorf("op %d wants %d bytes, has %d: %w", uint16(op), n, len(buf), ErrTruncatedMessage)
		}
		msg := Message{
			Channel:    ch,
			Op:         op,
			Incoming:   f.pkt.Incoming,
			Fragmented: fragmented,
			PacketNum:  f.pkt.Num,
			Payload:    buf[:n],
		}
		buf = buf[n:]
		if err := t.deliver(ctx, msg); err != nil {
			return err
		}
	}
	if len(buf) > 0 {
		t.logger.Trace().Int("packet", f.pkt.Num).Uint8("channel", ch).Int("bytes", len(buf)).Msg("message padding")
	}
	return nil
}

func (t *Transport) deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.counters.messages.Add(1)
	t.metrics.Message(msg.Op.String())

	err := t.handler.HandleMessage(ctx, msg)
	if err == nil {
		return nil
	}
	t.counters.handlerErrs.Add(1)
	t.metrics.HandlerError(msg.Op.String())
	t.logger.Warn().Err(err).
		Int("packet", msg.PacketNum).
		Uint8("channel", msg.Channel).
		Uint16("opcode", uint16(msg.Op)).
		Bool("incoming", msg.Incoming).
		Msg("message handler failed")
	if t.strict {
		return fmt.Errorf("packet %d %s: %w: %w", msg.PacketNum, msg, protocol.ErrFatalReplayMismatch, err)
	}
	return nil
}
