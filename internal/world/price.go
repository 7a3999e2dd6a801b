package world

import (
	"github.com/raidscope/raidscope/internal/entity"
)

// DefaultIgnoredContainers are equipment slots whose content cannot be
// looted and does not count toward a price.
var DefaultIgnoredContainers = []string{"SecuredContainer", "Scabbard"}

// Pricer sums catalog prices over arena trees.
type Pricer struct {
	describer entity.Describer
	ignored   map[string]bool
}

// NewPricer creates a Pricer. A nil describer prices everything at zero.
func NewPricer(d entity.Describer, ignoredContainers []string) *Pricer {
	p := &Pricer{describer: d, ignored: make(map[string]bool, len(ignoredContainers))}
	for _, c := range ignoredContainers {
		p.ignored[c] = true
	}
	return p
}

// Describe looks up a template, tolerating a nil describer.
func (p *Pricer) Describe(templateID string) (entity.Description, bool) {
	if p.describer == nil {
		return entity.Description{}, false
	}
	return p.describer.Describe(templateID)
}

// Price is the unit price of templateID times count.
func (p *Pricer) Price(templateID string, count uint32) int64 {
	d, ok := p.Describe(templateID)
	if !ok {
		return 0
	}
	return d.Price * int64(count)
}

// TotalPrice sums the subtree of rootID. Direct children of the root held in
// an ignored container are skipped with their content.
func (p *Pricer) TotalPrice(items *Items, rootID string) int64 {
	var total int64
	items.Walk(rootID, func(n *Node, depth int) bool {
		if depth == 1 && p.ignored[n.Container] {
			return false
		}
		total += p.Price(n.TemplateID, n.StackCount)
		return true
	})
	return total
}
