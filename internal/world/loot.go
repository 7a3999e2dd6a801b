package world

import (
	"sort"
	"strings"

	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/protocol"
)

// LootRules decide which crates are worth showing.
type LootRules struct {
	Threshold         int64
	IgnoredPrefixes   []string
	IgnoredContainers []string
	Wanted            []string
}

// Crate is a loot container in the world: loose loot or a corpse. It holds
// the root item id of its tree.
type Crate struct {
	ID       string           `json:"id"`
	RootID   string           `json:"root_id"`
	Name     string           `json:"name"`
	Position protocol.Vector3 `json:"position"`
	Corpse   bool             `json:"corpse"`
	Price    int64            `json:"price"`
	Wanted   bool             `json:"wanted"`
	Items    int              `json:"items"`
}

// Registry tracks every crate and sorts it into the visible, hidden and
// wanted buckets.
type Registry struct {
	Items *Items

	pricer   *Pricer
	rules    LootRules
	wanted   map[string]bool
	manual   map[string]bool
	crates   map[string]*Crate
	byRoot   map[string]string
	visible  map[string]*Crate
	hidden   map[string]*Crate
	wantedCr map[string]*Crate
}

// NewRegistry creates an empty registry over items.
func NewRegistry(items *Items, d entity.Describer, rules LootRules) *Registry {
	ignored := rules.IgnoredContainers
	if ignored == nil {
		ignored = DefaultIgnoredContainers
	}
	r := &Registry{
		Items:    items,
		pricer:   NewPricer(d, ignored),
		rules:    rules,
		wanted:   make(map[string]bool),
		manual:   make(map[string]bool),
		crates:   make(map[string]*Crate),
		byRoot:   make(map[string]string),
		visible:  make(map[string]*Crate),
		hidden:   make(map[string]*Crate),
		wantedCr: make(map[string]*Crate),
	}
	for _, t := range rules.Wanted {
		r.wanted[t] = true
	}
	return r
}

// Pricer returns the pricer the registry values crates with.
func (r *Registry) Pricer() *Pricer { return r.pricer }

// Add registers a decoded loot entity and its item tree. Loot without an id
// is keyed by its root item id.
func (r *Registry) Add(l entity.Lootable) *Crate {
	loot := l.Loot()
	if loot.Item == nil {
		return nil
	}
	id := loot.ID
	if id == "" {
		id = loot.Item.ID
	}
	_, corpse := l.(*entity.JSONCorpse)
	return r.add(id, loot.Item, loot.Position, corpse)
}

func (r *Registry) add(id string, root *entity.Item, pos protocol.Vector3, corpse bool) *Crate {
	r.Remove(id)
	if old, ok := r.byRoot[root.ID]; ok {
		r.Remove(old)
	}
	r.Items.Register(root, id)
	c := &Crate{ID: id, RootID: root.ID, Position: pos, Corpse: corpse}
	r.crates[id] = c
	r.byRoot[root.ID] = id
	r.classify(c)
	return c
}

// adopt turns an existing arena node into the root of a new crate.
func (r *Registry) adopt(id string, n *Node, pos protocol.Vector3) *Crate {
	r.Items.makeRoot(n, id)
	c := &Crate{ID: id, RootID: n.ID, Position: pos}
	r.crates[id] = c
	r.byRoot[n.ID] = id
	r.classify(c)
	return c
}

// Remove drops crate id and its item tree.
func (r *Registry) Remove(id string) bool {
	c, ok := r.crates[id]
	if !ok {
		return false
	}
	r.drop(c)
	r.Items.RemoveSubtree(c.RootID)
	return true
}

// drop forgets the crate but leaves its items in the arena.
func (r *Registry) drop(c *Crate) {
	delete(r.crates, c.ID)
	delete(r.byRoot, c.RootID)
	delete(r.visible, c.ID)
	delete(r.hidden, c.ID)
	delete(r.wantedCr, c.ID)
}

func (r *Registry) Get(id string) (*Crate, bool) {
	c, ok := r.crates[id]
	return c, ok
}

// ByRoot returns the crate whose tree is rooted at rootID.
func (r *Registry) ByRoot(rootID string) (*Crate, bool) {
	id, ok := r.byRoot[rootID]
	if !ok {
		return nil, false
	}
	return r.crates[id], true
}

func (r *Registry) Len() int { return len(r.crates) }

// Hide forces a crate into the hidden bucket until the session ends.
func (r *Registry) Hide(id string) bool {
	c, ok := r.crates[id]
	if !ok {
		return false
	}
	r.manual[id] = true
	r.classify(c)
	return true
}

// Want adds a wanted template and re-sorts every crate.
func (r *Registry) Want(templateID string) {
	r.wanted[templateID] = true
	r.Reclassify()
}

// Unwant removes a wanted template and re-sorts every crate.
func (r *Registry) Unwant(templateID string) {
	delete(r.wanted, templateID)
	r.Reclassify()
}

// WantedTemplates returns the wanted template ids, sorted.
func (r *Registry) WantedTemplates() []string {
	out := make([]string, 0, len(r.wanted))
	for t := range r.wanted {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Reclassify() {
	for _, c := range r.crates {
		r.classify(c)
	}
}

// Refresh re-sorts the crate rooted at rootID after its tree changed. A
// crate whose root was moved into another tree is dropped.
func (r *Registry) Refresh(rootID string) {
	c, ok := r.ByRoot(rootID)
	if !ok {
		return
	}
	n, ok := r.Items.Get(rootID)
	if !ok || !n.IsRoot() {
		r.drop(c)
		return
	}
	r.classify(c)
}

func (r *Registry) classify(c *Crate) {
	delete(r.visible, c.ID)
	delete(r.hidden, c.ID)
	delete(r.wantedCr, c.ID)

	c.Price = r.pricer.TotalPrice(r.Items, c.RootID)
	c.Items = 0
	c.Wanted = false
	if root, ok := r.Items.Get(c.RootID); ok {
		if d, ok := r.pricer.Describe(root.TemplateID); ok {
			c.Name = d.Name
		}
	}
	r.Items.Walk(c.RootID, func(n *Node, _ int) bool {
		c.Items++
		if r.wanted[n.TemplateID] {
			c.Wanted = true
		}
		return true
	})

	switch {
	case r.manual[c.ID]:
		r.hidden[c.ID] = c
	case c.Wanted:
		r.visible[c.ID] = c
		r.wantedCr[c.ID] = c
	case c.Price >= r.rules.Threshold && !r.ignoredName(c.Name):
		r.visible[c.ID] = c
	default:
		r.hidden[c.ID] = c
	}
}

func (r *Registry) ignoredName(name string) bool {
	for _, p := range r.rules.IgnoredPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Visible returns the visible crates ordered by price, highest first.
func (r *Registry) Visible() []*Crate { return sortedCrates(r.visible) }

func (r *Registry) Hidden() []*Crate { return sortedCrates(r.hidden) }

func (r *Registry) WantedCrates() []*Crate { return sortedCrates(r.wantedCr) }

func (r *Registry) IsVisible(id string) bool {
	_, ok := r.visible[id]
	return ok
}

func (r *Registry) IsHidden(id string) bool {
	_, ok := r.hidden[id]
	return ok
}

func sortedCrates(m map[string]*Crate) []*Crate {
	out := make([]*Crate, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price > out[j].Price
		}
		return out[i].ID < out[j].ID
	})
	return out
}
