package game

import (
	"context"
	"fmt"

	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/world"
)

// serverInit reads the map announcement.
func (d *Dispatcher) serverInit(ctx context.Context, r *protocol.ByteReader) error {
	var b world.MapBounds

	if _, err := r.ReadU8(); err != nil {
		return err
	}
	realDtOmitted, err := r.ReadU8()
	if err != nil {
		return err
	}
	if realDtOmitted == 0 {
		if _, err := r.ReadU64(); err != nil {
			return fmt.Errorf("real dt: %w", err)
		}
	}
	if _, err := r.ReadU64(); err != nil {
		return fmt.Errorf("game dt: %w", err)
	}
	if b.TimeFactor, err = r.ReadF32(); err != nil {
		return fmt.Errorf("time factor: %w", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := r.ReadSizedBytes(); err != nil {
			return fmt.Errorf("init blob %d: %w", i, err)
		}
	}
	if _, err := r.ReadU8(); err != nil {
		return err
	}
	if b.MemberType, err = r.ReadU32(); err != nil {
		return fmt.Errorf("member type: %w", err)
	}
	if _, err := r.ReadF32(); err != nil {
		return err
	}
	for i := 3; i < 5; i++ {
		if _, err := r.ReadSizedBytes(); err != nil {
			return fmt.Errorf("init blob %d: %w", i, err)
		}
	}
	if b.Min, err = r.ReadVector3(); err != nil {
		return fmt.Errorf("bound min: %w", err)
	}
	if b.Max, err = r.ReadVector3(); err != nil {
		return fmt.Errorf("bound max: %w", err)
	}
	if _, err := r.ReadU16(); err != nil {
		return err
	}
	if _, err := r.ReadU8(); err != nil {
		return err
	}

	d.world.SetMap(b)
	d.emit(ctx, events.EventMapLoaded, events.MapPayload{
		MinX: b.Min.X, MinY: b.Min.Y, MinZ: b.Min.Z,
		MaxX: b.Max.X, MaxY: b.Max.Y, MaxZ: b.Max.Z,
	})
	return nil
}

// playerSpawn reads the initial state of me or an observed player. A bad
// inventory or profile blob is logged and the player spawns without it.
func (d *Dispatcher) playerSpawn(ctx context.Context, r *protocol.ByteReader, me bool) error {
	p := &world.Player{Me: me}
	var err error

	if p.ProfileID, err = r.ReadU32(); err != nil {
		return fmt.Errorf("profile id: %w", err)
	}
	if p.Channel, err = r.ReadU8(); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	if p.Position, err = r.ReadVector3(); err != nil {
		return err
	}
	if _, err := r.ReadU8(); err != nil {
		return err
	}
	alive, err := r.ReadU8()
	if err != nil {
		return err
	}
	p.Alive = alive == 1
	if p.Position, err = r.ReadVector3(); err != nil {
		return err
	}
	rot, err := r.ReadQuaternion()
	if err != nil {
		return err
	}
	p.Rotation = world.QuaternionToEuler(rot)
	prone, err := r.ReadU8()
	if err != nil {
		return err
	}
	p.Prone = prone == 1
	if p.Pose, err = r.ReadF32(); err != nil {
		return err
	}
	invBlob, err := r.ReadSizedBytes()
	if err != nil {
		return fmt.Errorf("inventory blob: %w", err)
	}
	profBlob, err := r.ReadSizedBytes()
	if err != nil {
		return fmt.Errorf("profile blob: %w", err)
	}

	if pr, err := DecodeProfile(profBlob); err != nil {
		d.logger.Warn().Err(err).Uint8("channel", p.Channel).Msg("Profile not decoded")
	} else {
		p.ApplyProfile(pr)
	}

	var equipment *entity.Item
	if inv, err := entity.DecodeInventory(protocol.NewByteReader(invBlob)); err != nil {
		d.logger.Warn().Err(err).Str("player", p.String()).Msg("Inventory not decoded")
	} else {
		equipment = inv.Equipment
	}

	d.world.AddPlayer(p, equipment)
	d.logger.Info().
		Str("player", p.String()).
		Bool("me", me).
		Bool("alive", p.Alive).
		Int64("loot_price", p.LootPrice).
		Msg("Player spawned")
	d.emit(ctx, events.EventPlayerSpawned, playerPayload(p))
	return nil
}

func (d *Dispatcher) playerUnspawn(ctx context.Context, r *protocol.ByteReader) error {
	if _, err := r.ReadU32(); err != nil {
		return fmt.Errorf("profile id: %w", err)
	}
	channel, err := r.ReadU8()
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	p, err := d.world.RemovePlayer(channel)
	if err != nil {
		return err
	}
	d.logger.Info().Str("player", p.String()).Msg("Player left")
	d.emit(ctx, events.EventPlayerLeft, playerPayload(p))
	return nil
}

// worldSpawn registers every loot and corpse entity in the spawn list. The
// entities decoded before a failure are kept.
func (d *Dispatcher) worldSpawn(ctx context.Context, r *protocol.ByteReader) error {
	blob, err := r.ReadSizedBytes()
	if err != nil {
		return fmt.Errorf("spawn blob: %w", err)
	}
	list, decodeErr := entity.DecodeMany(protocol.NewByteReader(blob))
	crates := d.world.AddLoot(list)

	items := 0
	for _, c := range crates {
		items += c.Items
		if d.world.Loot.IsVisible(c.ID) {
			d.emit(ctx, events.EventValuableLoot, lootPayload(c))
		}
	}
	d.logger.Debug().
		Int("entities", len(list)).
		Int("crates", len(crates)).
		Int("items", items).
		Msg("World spawn")
	d.emit(ctx, events.EventLootSpawned, events.LootSpawnedPayload{Crates: len(crates), Items: items})

	if decodeErr != nil {
		return fmt.Errorf("spawn list: %w", decodeErr)
	}
	return nil
}

func lootPayload(c *world.Crate) events.LootPayload {
	return events.LootPayload{
		ID:     c.ID,
		Name:   c.Name,
		Price:  c.Price,
		Wanted: c.Wanted,
		X:      c.Position.X,
		Y:      c.Position.Y,
		Z:      c.Position.Z,
	}
}

