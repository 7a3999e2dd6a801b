// Package world holds the reconstructed state of one game session: the map,
// me, the observed players and the loot registry with its item arena.
//
// A State is owned by the consumer goroutine and is not safe for concurrent
// use. Presentation reads copies built from it.
package world

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/entity"
)

// Options configures a new State.
type Options struct {
	Describer entity.Describer
	Loot      LootRules
	// MaxSplits bounds the recorded split history.
	MaxSplits int
}

const defaultMaxSplits = 256

// State is the world of one session.
type State struct {
	Map     *MapBounds
	Me      *Player
	Players map[uint8]*Player
	Loot    *Registry
	Splits  []entity.SplitOperation

	SessionID  uint16
	StartedAt  time.Time
	MovesTotal int

	maxSplits int
	logger    zerolog.Logger
}

// New creates an empty world.
func New(opts Options) *State {
	if opts.MaxSplits <= 0 {
		opts.MaxSplits = defaultMaxSplits
	}
	items := NewItems()
	return &State{
		Players:   make(map[uint8]*Player),
		Loot:      NewRegistry(items, opts.Describer, opts.Loot),
		StartedAt: time.Now(),
		maxSplits: opts.MaxSplits,
		logger:    log.With().Str("component", "world").Logger(),
	}
}

// Items returns the item arena.
func (s *State) Items() *Items { return s.Loot.Items }

func (s *State) SetMap(b MapBounds) {
	s.Map = &b
	s.logger.Info().
		Interface("min", b.Min).
		Interface("max", b.Max).
		Msg("Map bounds received")
}

// AddPlayer stores p under its channel, replacing a previous occupant, and
// registers its equipment tree. equipment may be nil when the inventory
// could not be decoded.
func (s *State) AddPlayer(p *Player, equipment *entity.Item) {
	if old, ok := s.Players[p.Channel]; ok {
		s.dropPlayer(old)
	}
	if p.SpawnedAt.IsZero() {
		p.SpawnedAt = time.Now()
	}
	s.Players[p.Channel] = p
	if p.Me {
		s.Me = p
	}
	if equipment != nil {
		s.Items().Register(equipment, p.OwnerID())
		p.InventoryRoot = equipment.ID
		s.refreshPlayer(p)
	}
	s.logger.Debug().
		Str("player", p.String()).
		Bool("me", p.Me).
		Int64("loot_price", p.LootPrice).
		Msg("Player spawned")
}

// RemovePlayer deletes the player on channel and its inventory.
func (s *State) RemovePlayer(channel uint8) (*Player, error) {
	p, ok := s.Players[channel]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", channel, ErrUnknownPlayer)
	}
	s.dropPlayer(p)
	return p, nil
}

func (s *State) dropPlayer(p *Player) {
	delete(s.Players, p.Channel)
	if p.InventoryRoot != "" {
		s.Items().RemoveSubtree(p.InventoryRoot)
	}
	if s.Me == p {
		s.Me = nil
	}
}

// Player returns the player on channel.
func (s *State) Player(channel uint8) (*Player, bool) {
	p, ok := s.Players[channel]
	return p, ok
}

// PlayerByOwner finds the player whose inventory owner id is owner.
func (s *State) PlayerByOwner(owner string) (*Player, bool) {
	for _, p := range s.Players {
		if p.OwnerID() == owner {
			return p, true
		}
	}
	return nil, false
}

// SortedPlayers returns the players ordered by channel.
func (s *State) SortedPlayers() []*Player {
	out := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// AddLoot registers the crates found in a world spawn list. Entities that
// are not loot are ignored.
func (s *State) AddLoot(es []entity.Entity) []*Crate {
	var out []*Crate
	for _, e := range es {
		l, ok := e.(entity.Lootable)
		if !ok {
			continue
		}
		if c := s.Loot.Add(l); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// refreshPlayer re-values p. An inventory that was moved under another
// tree or handed to a crate no longer belongs to p.
func (s *State) refreshPlayer(p *Player) {
	if p.InventoryRoot == "" {
		return
	}
	n, ok := s.Items().Get(p.InventoryRoot)
	_, crate := s.Loot.ByRoot(p.InventoryRoot)
	if !ok || !n.IsRoot() || crate {
		s.logger.Debug().Str("player", p.Nickname).Str("root", p.InventoryRoot).Msg("Inventory detached")
		p.InventoryRoot = ""
		p.LootPrice = 0
		return
	}
	p.LootPrice = s.Loot.Pricer().TotalPrice(s.Items(), p.InventoryRoot)
}

// Counts summarizes the world for logs and metrics.
type Counts struct {
	Players int `json:"players"`
	Alive   int `json:"alive"`
	Items   int `json:"items"`
	Crates  int `json:"crates"`
	Visible int `json:"visible"`
	Wanted  int `json:"wanted"`
}

func (s *State) Counts() Counts {
	c := Counts{
		Players: len(s.Players),
		Items:   s.Items().Len(),
		Crates:  s.Loot.Len(),
		Visible: len(s.Loot.visible),
		Wanted:  len(s.Loot.wantedCr),
	}
	for _, p := range s.Players {
		if p.Alive {
			c.Alive++
		}
	}
	return c
}
