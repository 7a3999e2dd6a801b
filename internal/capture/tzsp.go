package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/transport"
)

// TZSP defaults.
const (
	DefaultTZSPAddr        = ":37008"
	DefaultGamePortMin     = 16900
	DefaultGamePortMax     = 17100
	DefaultMirrorPrefix    = "192.168."
	defaultFragmentTimeout = 30 * time.Second
	mirrorBufSize          = 65536

	tzspTagPadding = 0x00
	tzspTagEnd     = 0x01
	tzspEthernet   = 1
)

// ErrBadFrame is returned for a mirrored frame that cannot be unwrapped.
var ErrBadFrame = fmt.Errorf("bad mirror frame: %w", protocol.ErrProtocolAnomaly)

// TZSPOptions configures the mirror listener.
type TZSPOptions struct {
	Addr string
	// Datagrams are kept when either UDP port is inside [PortMin, PortMax].
	PortMin, PortMax int
	// LocalPrefix marks incoming datagrams by destination address.
	LocalPrefix     string
	FragmentTimeout time.Duration
}

func (o *TZSPOptions) defaults() {
	if o.Addr == "" {
		o.Addr = DefaultTZSPAddr
	}
	if o.PortMin == 0 && o.PortMax == 0 {
		o.PortMin, o.PortMax = DefaultGamePortMin, DefaultGamePortMax
	}
	if o.LocalPrefix == "" {
		o.LocalPrefix = DefaultMirrorPrefix
	}
	if o.FragmentTimeout <= 0 {
		o.FragmentTimeout = defaultFragmentTimeout
	}
}

// TZSPListener receives TZSP encapsulated Ethernet frames from a switch or
// router port mirror and extracts the game's UDP datagrams, reassembling
// fragmented IPv4.
type TZSPListener struct {
	opts   TZSPOptions
	defrag *ip4defrag.IPv4Defragmenter
	logger zerolog.Logger

	lastSweep time.Time

	frames   atomic.Uint64
	kept     atomic.Uint64
	filtered atomic.Uint64
	bad      atomic.Uint64
}

var _ Source = (*TZSPListener)(nil)

func NewTZSPListener(opts TZSPOptions) *TZSPListener {
	opts.defaults()
	return &TZSPListener{
		opts:      opts,
		defrag:    ip4defrag.NewIPv4Defragmenter(),
		logger:    log.With().Str("component", "tzsp").Str("addr", opts.Addr).Logger(),
		lastSweep: time.Now(),
	}
}

func (l *TZSPListener) Name() string { return "tzsp:" + l.opts.Addr }

// Run listens until ctx is done.
func (l *TZSPListener) Run(ctx context.Context, q *Queue) error {
	lc := listenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", l.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen tzsp on %s: %w", l.opts.Addr, err)
	}
	conn := pc.(*net.UDPConn)
	l.logger.Info().Int("port_min", l.opts.PortMin).Int("port_max", l.opts.PortMax).Msg("TZSP listener started")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, mirrorBufSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Uint64("kept", l.kept.Load()).Msg("TZSP listener stopping")
				return nil
			default:
				l.logger.Error().Err(err).Msg("UDP read error")
				continue
			}
		}

		// the defragmenter keeps fragments, so buf cannot be shared
		pkt, ok, err := l.Decode(bytes.Clone(buf[:n]))
		if err != nil {
			l.logger.Debug().Err(err).Int("len", n).Msg("Mirror frame dropped")
			continue
		}
		if !ok {
			continue
		}
		if err := q.Push(ctx, pkt); err != nil {
			return nil
		}
	}
}

// Decode unwraps one TZSP datagram. ok is false for frames that are not
// game traffic or are an incomplete IPv4 fragment. The returned data aliases
// frame unless the datagram was reassembled.
func (l *TZSPListener) Decode(frame []byte) (pkt transport.Packet, ok bool, err error) {
	l.frames.Add(1)
	l.sweep()

	eth, err := StripTZSP(frame)
	if err != nil {
		l.bad.Add(1)
		return pkt, false, err
	}

	p := gopacket.NewPacket(eth, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true})
	ipLayer := p.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		l.filtered.Add(1)
		return pkt, false, nil
	}
	ip4 := ipLayer.(*layers.IPv4)
	if ip4.Protocol != layers.IPProtocolUDP {
		l.filtered.Add(1)
		return pkt, false, nil
	}

	whole, err := l.defrag.DefragIPv4WithTimestamp(ip4, time.Now())
	if err != nil {
		l.bad.Add(1)
		return pkt, false, fmt.Errorf("%w: defrag: %v", ErrBadFrame, err)
	}
	if whole == nil {
		return pkt, false, nil
	}

	var udp layers.UDP
	if err := udp.DecodeFromBytes(whole.Payload, gopacket.NilDecodeFeedback); err != nil {
		l.bad.Add(1)
		return pkt, false, fmt.Errorf("%w: udp: %v", ErrBadFrame, err)
	}
	if !l.gamePort(int(udp.SrcPort)) && !l.gamePort(int(udp.DstPort)) {
		l.filtered.Add(1)
		return pkt, false, nil
	}
	if len(udp.Payload) == 0 {
		l.filtered.Add(1)
		return pkt, false, nil
	}

	l.kept.Add(1)
	pkt.Data = udp.Payload
	pkt.Incoming = strings.HasPrefix(whole.DstIP.String(), l.opts.LocalPrefix)
	return pkt, true, nil
}

func (l *TZSPListener) gamePort(p int) bool {
	return l.opts.PortMin <= p && p <= l.opts.PortMax
}

func (l *TZSPListener) sweep() {
	now := time.Now()
	if now.Sub(l.lastSweep) < l.opts.FragmentTimeout {
		return
	}
	l.lastSweep = now
	if n := l.defrag.DiscardOlderThan(now.Add(-l.opts.FragmentTimeout)); n > 0 {
		l.logger.Debug().Int("groups", n).Msg("Stale IPv4 fragments discarded")
	}
}

// TZSPStats counts mirrored frames by outcome.
type TZSPStats struct {
	Frames   uint64 `json:"frames"`
	Kept     uint64 `json:"kept"`
	Filtered uint64 `json:"filtered"`
	Bad      uint64 `json:"bad"`
}

func (l *TZSPListener) Stats() TZSPStats {
	return TZSPStats{
		Frames:   l.frames.Load(),
		Kept:     l.kept.Load(),
		Filtered: l.filtered.Load(),
		Bad:      l.bad.Load(),
	}
}

// StripTZSP removes the TZSP header and tag list and returns the
// encapsulated Ethernet frame.
func StripTZSP(b []byte) ([]byte, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(b))
	}
	if enc := binary.BigEndian.Uint16(b[2:4]); enc != tzspEthernet {
		return nil, fmt.Errorf("%w: encapsulation %d", ErrBadFrame, enc)
	}
	for i := 4; i < len(b); {
		switch b[i] {
		case tzspTagPadding:
			i++
		case tzspTagEnd:
			return b[i+1:], nil
		default:
			if i+1 >= len(b) {
				return nil, fmt.Errorf("%w: truncated tag %#x", ErrBadFrame, b[i])
			}
			i += 2 + int(b[i+1])
		}
	}
	return nil, fmt.Errorf("%w: no end tag", ErrBadFrame)
}
