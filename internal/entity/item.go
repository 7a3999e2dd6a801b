package entity

// Location is the cell of an item inside a grid.
type Location struct {
	X        uint32 `json:"x"`
	Y        uint32 `json:"y"`
	Rotation uint32 `json:"rotation"`
	Searched bool   `json:"searched"`
}

// Item is a node of an item tree.
type Item struct {
	ID         string      `json:"id"`
	TemplateID string      `json:"template_id"`
	StackCount uint32      `json:"stack_count"`
	IsRaid     bool        `json:"is_raid"`
	Components []Entity    `json:"-"`
	Slots      []Slot      `json:"slots,omitempty"`
	Grids      []Grid      `json:"grids,omitempty"`
	StackSlots []StackSlot `json:"stack_slots,omitempty"`
}

func (*Item) Tag() Tag { return TagItem }

// Slot is a named equipment or attachment slot holding one item.
type Slot struct {
	ID   string `json:"id"`
	Item *Item  `json:"item"`
}

func (Slot) Tag() Tag { return TagSlotDescriptor }

// GridItem is an item placed at a grid location.
type GridItem struct {
	Location Location `json:"location"`
	Item     *Item    `json:"item"`
}

func (GridItem) Tag() Tag { return TagItemInGrid }

type Grid struct {
	ID    string     `json:"id"`
	Items []GridItem `json:"items"`
}

func (Grid) Tag() Tag { return TagGrid }

// StackSlot holds a list of items, a magazine for example.
type StackSlot struct {
	ID    string  `json:"id"`
	Items []*Item `json:"items"`
}

func (StackSlot) Tag() Tag { return TagStackSlot }

// Child is a direct child of an item with the container that holds it.
type Child struct {
	Item      *Item
	Kind      AddressKind
	Container string
	Location  *Location
}

// Children lists the direct children in slot, grid, stack slot order.
func (it *Item) Children() []Child {
	var out []Child
	for _, s := range it.Slots {
		if s.Item != nil {
			out = append(out, Child{Item: s.Item, Kind: AddrSlot, Container: s.ID})
		}
	}
	for _, g := range it.Grids {
		for i := range g.Items {
			gi := &g.Items[i]
			if gi.Item != nil {
				out = append(out, Child{Item: gi.Item, Kind: AddrGrid, Container: g.ID, Location: &gi.Location})
			}
		}
	}
	for _, ss := range it.StackSlots {
		for _, c := range ss.Items {
			if c != nil {
				out = append(out, Child{Item: c, Kind: AddrStack, Container: ss.ID})
			}
		}
	}
	return out
}

// Count returns the number of items in the tree rooted at it.
func (it *Item) Count() int {
	if it == nil {
		return 0
	}
	n := 1
	for _, c := range it.Children() {
		n += c.Item.Count()
	}
	return n
}
