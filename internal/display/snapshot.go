// Package display builds the read-only snapshot that presentation layers
// render: players and loot with distance, height difference and bearing from
// me, sorted by distance.
package display

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/world"
)

// DefaultMaxDeadPlayers is how many dead players a snapshot keeps.
const DefaultMaxDeadPlayers = 4

// PlayerRow is one player as shown to the user.
type PlayerRow struct {
	ID        string           `json:"id"`
	Channel   uint8            `json:"channel"`
	Nickname  string           `json:"nickname"`
	Tags      string           `json:"tags"`
	Side      string           `json:"side"`
	GroupID   string           `json:"group_id,omitempty"`
	Position  protocol.Vector3 `json:"position"`
	Rotation  protocol.Vector3 `json:"rotation"`
	Alive     bool             `json:"alive"`
	LootPrice int64            `json:"loot_price"`
	Bracket   int              `json:"bracket"`
	Distance  float64          `json:"distance"`
	VDist     float64          `json:"vdist"`
	Angle     int              `json:"angle"`
	Death     *world.Death     `json:"death,omitempty"`
}

// LootRow is one visible crate.
type LootRow struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Position protocol.Vector3 `json:"position"`
	Corpse   bool             `json:"corpse"`
	Items    int              `json:"items"`
	Price    int64            `json:"price"`
	Bracket  int              `json:"bracket"`
	Wanted   bool             `json:"wanted"`
	Distance float64          `json:"distance"`
	VDist    float64          `json:"vdist"`
	Angle    int              `json:"angle"`
}

// Snapshot is an immutable view of the world. Slices are never shared with
// the world state.
type Snapshot struct {
	SessionID   uint16           `json:"session_id"`
	SessionUUID string           `json:"session_uuid,omitempty"`
	Map         *world.MapBounds `json:"map,omitempty"`
	Me          *PlayerRow       `json:"me,omitempty"`
	Players     []PlayerRow      `json:"players"`
	Loot        []LootRow        `json:"loot"`
	Hidden      int              `json:"hidden"`
	Counts      world.Counts     `json:"counts"`
	PacketNum   int              `json:"packet_num"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// BuildOptions shape the rows of a snapshot.
type BuildOptions struct {
	MaxDeadPlayers int
	PriceBrackets  []int64
}

// Bracket grades price against ascending limits: 0 below the first limit,
// len(brackets) at or above the last.
func Bracket(price int64, brackets []int64) int {
	return sort.Search(len(brackets), func(i int) bool { return brackets[i] > price })
}

// Build copies w into a snapshot. It must run on the goroutine that owns w.
func Build(w *world.State, opts BuildOptions) Snapshot {
	if opts.MaxDeadPlayers <= 0 {
		opts.MaxDeadPlayers = DefaultMaxDeadPlayers
	}

	s := Snapshot{
		SessionID:   w.SessionID,
		Counts:      w.Counts(),
		Hidden:      len(w.Loot.Hidden()),
		GeneratedAt: time.Now(),
	}
	if w.Map != nil {
		m := *w.Map
		s.Map = &m
	}

	var origin protocol.Vector3
	var yaw float64
	if w.Me != nil {
		origin, yaw = w.Me.Position, w.Me.Rotation.X
		me := playerRow(w.Me, origin, yaw, opts.PriceBrackets)
		s.Me = &me
	}

	alive := make([]PlayerRow, 0, len(w.Players))
	var dead []PlayerRow
	for _, p := range w.Players {
		if p.Me {
			continue
		}
		row := playerRow(p, origin, yaw, opts.PriceBrackets)
		if p.Alive {
			alive = append(alive, row)
		} else {
			dead = append(dead, row)
		}
	}
	byDistance(alive)
	byDistance(dead)
	if len(dead) > opts.MaxDeadPlayers {
		dead = dead[:opts.MaxDeadPlayers]
	}
	s.Players = append(alive, dead...)

	crates := w.Loot.Visible()
	s.Loot = make([]LootRow, 0, len(crates))
	for _, c := range crates {
		s.Loot = append(s.Loot, LootRow{
			ID:       c.ID,
			Name:     c.Name,
			Position: c.Position,
			Corpse:   c.Corpse,
			Items:    c.Items,
			Price:    c.Price,
			Bracket:  Bracket(c.Price, opts.PriceBrackets),
			Wanted:   c.Wanted,
			Distance: round1(world.Distance(origin, c.Position)),
			VDist:    round1(world.VerticalDistance(origin, c.Position)),
			Angle:    world.Angle(origin, c.Position, yaw),
		})
	}
	sort.SliceStable(s.Loot, func(i, j int) bool { return s.Loot[i].Distance < s.Loot[j].Distance })

	return s
}

func playerRow(p *world.Player, origin protocol.Vector3, yaw float64, brackets []int64) PlayerRow {
	row := PlayerRow{
		ID:        strconv.FormatUint(uint64(p.ProfileID), 10),
		Channel:   p.Channel,
		Nickname:  p.Nickname,
		Tags:      p.Tags(),
		Side:      p.Side,
		GroupID:   p.GroupID,
		Position:  p.Position,
		Rotation:  p.Rotation,
		Alive:     p.Alive,
		LootPrice: p.LootPrice,
		Bracket:   Bracket(p.LootPrice, brackets),
	}
	if p.Death != nil {
		d := *p.Death
		row.Death = &d
	}
	if !p.Me {
		row.Distance = round1(world.Distance(origin, p.Position))
		row.VDist = round1(world.VerticalDistance(origin, p.Position))
		row.Angle = world.Angle(origin, p.Position, yaw)
	}
	return row
}

func byDistance(rows []PlayerRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Distance != rows[j].Distance {
			return rows[i].Distance < rows[j].Distance
		}
		return rows[i].Channel < rows[j].Channel
	})
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Board holds the latest snapshot. It is safe for concurrent use.
type Board struct {
	mu      sync.RWMutex
	snap    Snapshot
	version uint64
	subs    []func(Snapshot)
}

func NewBoard() *Board {
	return &Board{snap: Snapshot{Players: []PlayerRow{}, Loot: []LootRow{}}}
}

// Publish replaces the snapshot and notifies subscribers outside the lock.
func (b *Board) Publish(s Snapshot) {
	b.mu.Lock()
	b.snap = s
	b.version++
	subs := b.subs
	b.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Snapshot returns the latest snapshot.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// Version counts publications.
func (b *Board) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// OnPublish registers fn to receive every published snapshot. fn runs on
// the publishing goroutine and must not block.
func (b *Board) OnPublish(fn func(Snapshot)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}
