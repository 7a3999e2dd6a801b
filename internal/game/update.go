package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/transport"
	"github.com/raidscope/raidscope/internal/world"
)

const (
	maxFrame       = 2097151
	maxUpdateCount = 127
)

var (
	deltaLow  = protocol.MustQuantizer(-1, 1, protocol.QLow)
	deltaHigh = protocol.MustQuantizer(-1, 1, protocol.QHigh)
	yawQ      = protocol.MustQuantizer(0, 360, protocol.QRotation)
	pitchQ    = protocol.MustQuantizer(-90, 90, protocol.QRotation)
	dtQ       = protocol.MustQuantizer(0, 1, protocol.QHigh)
)

// gameUpdate reads the bit-packed update blob. Outgoing updates are mine;
// incoming ones are a player update when the first bit is set and a world
// update otherwise.
func (d *Dispatcher) gameUpdate(ctx context.Context, r *protocol.ByteReader, msg transport.Message) error {
	blob, err := r.ReadSizedBytes()
	if err != nil {
		return fmt.Errorf("update blob: %w", err)
	}
	br := protocol.NewBitReader(blob)

	if !msg.Incoming {
		return d.myUpdate(br)
	}
	isPlayer, err := br.ReadBit()
	if err != nil {
		return err
	}
	if isPlayer {
		return d.playerUpdate(ctx, br, msg.Channel)
	}
	return d.worldUpdate(ctx, br)
}

func (d *Dispatcher) myUpdate(br *protocol.BitReader) error {
	me := d.world.Me
	if me == nil {
		return fmt.Errorf("my update: %w", world.ErrUnknownPlayer)
	}
	n, err := br.ReadLimited(0, maxUpdateCount)
	if err != nil {
		return fmt.Errorf("my update count: %w", err)
	}
	for i := int64(0); i < n; i++ {
		if err := d.myFrame(br, me); err != nil {
			return fmt.Errorf("my update %d of %d: %w", i, n, err)
		}
	}
	return nil
}

func (d *Dispatcher) myFrame(br *protocol.BitReader, me *world.Player) error {
	hasRTT, err := br.ReadBit()
	if err != nil {
		return err
	}
	if hasRTT {
		if _, err := br.ReadU16(); err != nil {
			return fmt.Errorf("rtt: %w", err)
		}
	}
	if _, err := br.ReadQuantizer(dtQ); err != nil {
		return fmt.Errorf("dt: %w", err)
	}
	if _, err := br.ReadLimited(0, maxFrame); err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	wide, err := br.ReadBit()
	if err != nil {
		return err
	}
	hi := int64(15)
	if wide {
		hi = maxFrame
	}
	if _, err := br.ReadLimited(0, hi); err != nil {
		return fmt.Errorf("frame delta: %w", err)
	}
	if err := d.updatePosition(br, me); err != nil {
		return err
	}
	return d.updateRotation(br, me)
}

// playerUpdate applies an observed player's update. Updates for channels
// without a spawned player are skipped.
func (d *Dispatcher) playerUpdate(ctx context.Context, br *protocol.BitReader, channel uint8) error {
	p, ok := d.world.Player(channel)
	if !ok {
		d.logger.Debug().Uint8("channel", channel).Msg("Update for unknown player skipped")
		return nil
	}
	if p.Me {
		return nil
	}

	small, err := br.ReadBit()
	if err != nil {
		return err
	}
	lo, hi := int64(0), int64(maxFrame)
	if small {
		lo, hi = 1, 5
	}
	if _, err := br.ReadLimited(lo, hi); err != nil {
		return fmt.Errorf("player %s frame: %w", p, err)
	}
	if p.GameTime, err = br.ReadF32(); err != nil {
		return fmt.Errorf("player %s game time: %w", p, err)
	}
	if p.Disconnected, err = br.ReadBit(); err != nil {
		return err
	}
	alive, err := br.ReadBit()
	if err != nil {
		return err
	}

	if !alive {
		death, err := readDeath(br)
		if err != nil {
			return fmt.Errorf("player %s death: %w", p, err)
		}
		wasAlive := p.Alive
		p.Kill(death)
		if wasAlive {
			d.logger.Info().
				Str("player", p.String()).
				Str("status", death.Status).
				Str("killer", death.Killer).
				Str("weapon", death.Weapon).
				Bool("disconnected", p.Disconnected).
				Msg("Player died")
			d.emit(ctx, events.EventPlayerDied, events.DeathPayload{
				Channel:  p.Channel,
				Nickname: death.Nickname,
				Status:   death.Status,
				Killer:   death.Killer,
				Weapon:   death.Weapon,
			})
		}
		return nil
	}

	if err := d.updatePosition(br, p); err != nil {
		return fmt.Errorf("player %s: %w", p, err)
	}
	if err := d.updateRotation(br, p); err != nil {
		return fmt.Errorf("player %s: %w", p, err)
	}
	return nil
}

func readDeath(br *protocol.BitReader) (world.Death, error) {
	var dr world.Death
	var err error
	if dr.InventoryHash, err = br.ReadU32(); err != nil {
		return dr, err
	}
	if dr.Time, err = br.ReadU64(); err != nil {
		return dr, err
	}
	if dr.Nickname, err = br.ReadString(); err != nil {
		return dr, fmt.Errorf("nickname: %w", err)
	}
	if dr.Side, err = br.ReadU32(); err != nil {
		return dr, err
	}
	if dr.Status, err = br.ReadString(); err != nil {
		return dr, fmt.Errorf("status: %w", err)
	}
	if dr.Killer, err = br.ReadString(); err != nil {
		return dr, fmt.Errorf("killer: %w", err)
	}
	if dr.Level, err = br.ReadU32(); err != nil {
		return dr, err
	}
	if dr.Weapon, err = br.ReadString(); err != nil {
		return dr, fmt.Errorf("weapon: %w", err)
	}
	return dr, nil
}

// updatePosition reads an optional position, either relative to the last
// one or absolute inside the map bounds.
func (d *Dispatcher) updatePosition(br *protocol.BitReader, p *world.Player) error {
	has, err := br.ReadBit()
	if err != nil || !has {
		return err
	}
	partial, err := br.ReadBit()
	if err != nil {
		return err
	}

	qs := [3]protocol.Quantizer{deltaLow, deltaHigh, deltaLow}
	if !partial {
		if qs, err = d.positionQuantizers(); err != nil {
			return err
		}
	}
	var v [3]float64
	for i, q := range qs {
		if v[i], err = br.ReadQuantizer(q); err != nil {
			return fmt.Errorf("position axis %d: %w", i, err)
		}
	}
	pos := protocol.Vector3{X: v[0], Y: v[1], Z: v[2]}
	if partial {
		pos = p.Position.Add(pos)
	}
	if d.opts.Strict && d.world.Map != nil {
		if err := d.world.Map.Check(pos); err != nil {
			return err
		}
	}
	p.Position = pos
	return nil
}

func (d *Dispatcher) positionQuantizers() ([3]protocol.Quantizer, error) {
	m := d.world.Map
	if m == nil {
		return [3]protocol.Quantizer{}, world.ErrNoMap
	}
	if d.posQMap != m {
		qs, err := m.Quantizers()
		if err != nil {
			return qs, err
		}
		d.posQ, d.posQMap = qs, m
	}
	return d.posQ, nil
}

func (d *Dispatcher) updateRotation(br *protocol.BitReader, p *world.Player) error {
	has, err := br.ReadU8()
	if err != nil || has == 0 {
		return err
	}
	yaw, err := br.ReadQuantizer(yawQ)
	if err != nil {
		return fmt.Errorf("yaw: %w", err)
	}
	pitch, err := br.ReadQuantizer(pitchQ)
	if err != nil {
		return fmt.Errorf("pitch: %w", err)
	}
	p.Rotation.X, p.Rotation.Y = yaw, pitch
	return nil
}

// worldUpdate replays the move and split operations of a world update.
// Each entry is length prefixed, so a bad entry does not stop the rest.
func (d *Dispatcher) worldUpdate(ctx context.Context, br *protocol.BitReader) error {
	n, err := br.ReadLimited(0, maxUpdateCount)
	if err != nil {
		return fmt.Errorf("world update count: %w", err)
	}
	var errs []error
	for i := int64(0); i < n; i++ {
		size, err := br.ReadU16()
		if err != nil {
			return fmt.Errorf("world update %d size: %w", i, err)
		}
		blob, err := br.ReadBytesAligned(int(size))
		if err != nil {
			return fmt.Errorf("world update %d: %w", i, err)
		}
		if err := d.worldEntry(ctx, blob); err != nil {
			errs = append(errs, fmt.Errorf("world update %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) worldEntry(ctx context.Context, blob []byte) error {
	e, err := entity.Decode(protocol.NewByteReader(blob))
	if err != nil {
		return err
	}
	switch op := e.(type) {
	case *entity.MoveOperation:
		if err := d.world.ApplyMove(op); err != nil {
			return err
		}
		d.emit(ctx, events.EventItemMoved, events.MovePayload{
			ItemID: op.ItemID,
			From:   op.From.String(),
			To:     op.To.String(),
		})
	case *entity.SplitOperation:
		return d.world.ApplySplit(op)
	default:
		d.logger.Trace().Str("tag", e.Tag().String()).Msg("World update entity ignored")
	}
	return nil
}
