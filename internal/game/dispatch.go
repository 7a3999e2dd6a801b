// Package game decodes logical messages by opcode and applies them to the
// world state of the current session.
package game

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/transport"
	"github.com/raidscope/raidscope/internal/world"
)

// Options configures a Dispatcher.
type Options struct {
	World world.Options
	// Strict checks every decoded position against the map bounds.
	Strict bool
	Bus    *events.Bus
}

// Dispatcher routes messages to the per-opcode decoders. It implements
// transport.MessageHandler and transport.SessionListener and must be used
// from the goroutine that drives the transport.
type Dispatcher struct {
	opts   Options
	world  *world.State
	bus    *events.Bus
	logger zerolog.Logger

	posQ    [3]protocol.Quantizer
	posQMap *world.MapBounds
}

var (
	_ transport.MessageHandler  = (*Dispatcher)(nil)
	_ transport.SessionListener = (*Dispatcher)(nil)
)

// NewDispatcher creates a dispatcher with an empty world.
func NewDispatcher(opts Options) *Dispatcher {
	return &Dispatcher{
		opts:   opts,
		world:  world.New(opts.World),
		bus:    opts.Bus,
		logger: log.With().Str("component", "game").Logger(),
	}
}

// World returns the state of the current session.
func (d *Dispatcher) World() *world.State { return d.world }

// NewSession discards the world and starts a fresh one.
func (d *Dispatcher) NewSession(ctx context.Context, sessionID uint16) {
	d.world = world.New(d.opts.World)
	d.world.SessionID = sessionID
	d.posQMap = nil
	d.logger.Info().Uint16("session", sessionID).Msg("New game session")
}

// HandleMessage decodes one message. Errors are scoped to the message.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg transport.Message) error {
	r := protocol.NewByteReader(msg.Payload)

	var err error
	switch msg.Op {
	case protocol.OpServerInit:
		if !msg.Incoming {
			return nil
		}
		err = d.serverInit(ctx, r)
	case protocol.OpPlayerSpawn:
		err = d.playerSpawn(ctx, r, true)
	case protocol.OpObserverSpawn:
		err = d.playerSpawn(ctx, r, false)
	case protocol.OpPlayerUnspawn, protocol.OpObserverUnspawn:
		err = d.playerUnspawn(ctx, r)
	case protocol.OpWorldSpawn, protocol.OpSubworldSpawn:
		err = d.worldSpawn(ctx, r)
	case protocol.OpWorldUnspawn, protocol.OpSubworldUnspawn:
		d.logger.Debug().
			Str("op", msg.Op.String()).
			Int("len", len(msg.Payload)).
			Msg("Unspawn acknowledged")
	case protocol.OpAntiCheat:
	case protocol.OpGameUpdate:
		err = d.gameUpdate(ctx, r, msg)
	default:
		d.logger.Debug().
			Uint16("op", uint16(msg.Op)).
			Uint8("channel", msg.Channel).
			Int("packet", msg.PacketNum).
			Msg("Unhandled opcode")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Op, err)
	}
	return nil
}

func (d *Dispatcher) emit(ctx context.Context, t events.EventType, payload interface{}) {
	d.bus.Emit(ctx, events.Event{Type: t, Source: "game", Payload: payload})
}

func playerPayload(p *world.Player) events.PlayerPayload {
	return events.PlayerPayload{
		Channel:   p.Channel,
		Nickname:  p.Nickname,
		Side:      p.Side,
		Level:     p.Level,
		NPC:       p.NPC,
		Me:        p.Me,
		LootPrice: p.LootPrice,
	}
}
