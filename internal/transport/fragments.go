package transport

import (
	"bytes"
	"fmt"

	"github.com/raidscope/raidscope/internal/protocol"
)

// DefaultMaxFragmentGroups caps the open groups per direction and channel.
const DefaultMaxFragmentGroups = 16

// Fragment is one chunk of a larger message.
type Fragment struct {
	ID    byte
	Index byte
	Total byte
	Data  []byte
}

type fragmentKey struct {
	incoming bool
	channel  byte
}

type fragmentGroup struct {
	id     byte
	total  byte
	chunks map[byte][]byte
}

// fragmentLane holds the open groups of one key in arrival order and the
// newest group id observed on it.
type fragmentLane struct {
	newest byte
	groups []*fragmentGroup
}

// FragmentAssembler collects fragments per (direction, channel) and returns
// the concatenated message once every index of a group has arrived.
// It is not safe for concurrent use.
type FragmentAssembler struct {
	lanes     map[fragmentKey]*fragmentLane
	maxGroups int
	evicted   int
	stale     int
}

// NewFragmentAssembler creates an assembler. maxGroups <= 0 selects
// DefaultMaxFragmentGroups.
func NewFragmentAssembler(maxGroups int) *FragmentAssembler {
	if maxGroups <= 0 {
		maxGroups = DefaultMaxFragmentGroups
	}
	return &FragmentAssembler{
		lanes:     make(map[fragmentKey]*fragmentLane),
		maxGroups: maxGroups,
	}
}

// behind reports how far id trails newest on the 8-bit ring, or 0 when id
// is at or ahead of newest.
func behind(newest, id byte) int {
	d := int(newest - id)
	if d >= 128 {
		return 0
	}
	return d
}

// Add stores f and reports whether its group completed.
func (a *FragmentAssembler) Add(incoming bool, channel byte, f Fragment) ([]byte, bool, error) {
	if f.Total == 0 || f.Index >= f.Total {
		return nil, false, fmt.Errorf("fragment %d index %d of %d: %w", f.ID, f.Index, f.Total, ErrBadFragment)
	}

	key := fragmentKey{incoming: incoming, channel: channel}
	lane := a.lanes[key]
	if lane == nil {
		lane = &fragmentLane{newest: f.ID}
		a.lanes[key] = lane
	}

	var g *fragmentGroup
	for _, candidate := range lane.groups {
		if candidate.id == f.ID {
			g = candidate
			break
		}
	}

	if g == nil {
		if behind(lane.newest, f.ID) > protocol.StaleFragmentDistance {
			a.stale++
			return nil, false, nil
		}
		if behind(lane.newest, f.ID) == 0 {
			lane.newest = f.ID
		}
		g = &fragmentGroup{id: f.ID, total: f.Total, chunks: make(map[byte][]byte, f.Total)}
		a.evict(lane, g)
	}

	if g.total != f.Total {
		return nil, false, fmt.Errorf("fragment %d: total %d, group expects %d: %w",
			f.ID, f.Total, g.total, ErrFragmentMismatch)
	}

	if existing, ok := g.chunks[f.Index]; ok {
		if !bytes.Equal(existing, f.Data) {
			return nil, false, fmt.Errorf("fragment %d index %d redelivered with different bytes: %w",
				f.ID, f.Index, ErrFragmentMismatch)
		}
		return nil, false, nil
	}
	g.chunks[f.Index] = append([]byte(nil), f.Data...)

	if len(g.chunks) < int(g.total) {
		return nil, false, nil
	}

	size := 0
	for _, c := range g.chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for i := 0; i < int(g.total); i++ {
		out = append(out, g.chunks[byte(i)]...)
	}
	lane.remove(g)
	return out, true, nil
}

// evict adds g to the lane, then drops groups trailing the newest id by
// more than the stale distance and, over the cap, the furthest behind.
func (a *FragmentAssembler) evict(lane *fragmentLane, g *fragmentGroup) {
	groups := append(lane.groups, g)
	kept := make([]*fragmentGroup, 0, len(groups))
	for _, other := range groups {
		if behind(lane.newest, other.id) > protocol.StaleFragmentDistance {
			a.evicted++
			continue
		}
		kept = append(kept, other)
	}
	for len(kept) > a.maxGroups {
		oldest := 0
		for i, other := range kept {
			if behind(lane.newest, other.id) > behind(lane.newest, kept[oldest].id) {
				oldest = i
			}
		}
		kept = append(kept[:oldest], kept[oldest+1:]...)
		a.evicted++
	}
	lane.groups = kept
}

func (l *fragmentLane) remove(g *fragmentGroup) {
	for i, other := range l.groups {
		if other == g {
			l.groups = append(l.groups[:i], l.groups[i+1:]...)
			return
		}
	}
}

// Pending is the number of open groups across all keys.
func (a *FragmentAssembler) Pending() int {
	n := 0
	for _, lane := range a.lanes {
		n += len(lane.groups)
	}
	return n
}

// Evicted is the number of groups dropped as stale or over the cap.
func (a *FragmentAssembler) Evicted() int {
	return a.evicted
}

// Stale is the number of late chunks discarded because their group id
// trails the newest observed id by more than the stale distance.
func (a *FragmentAssembler) Stale() int {
	return a.stale
}

// Reset drops every open group and the newest ids.
func (a *FragmentAssembler) Reset() {
	a.lanes = make(map[fragmentKey]*fragmentLane)
}
