package entity

import "fmt"

// AddressKind selects the container an item address points into.
type AddressKind uint8

const (
	AddrSlot  AddressKind = 0
	AddrGrid  AddressKind = 1
	AddrStack AddressKind = 2
	AddrOwner AddressKind = 3
)

func (k AddressKind) String() string {
	switch k {
	case AddrSlot:
		return "slot"
	case AddrGrid:
		return "grid"
	case AddrStack:
		return "stack"
	case AddrOwner:
		return "owner"
	}
	return fmt.Sprintf("address(%d)", uint8(k))
}

// Address locates an item: a container of a parent item, or the root of
// an owner (a player's inventory or a loose loot crate).
type Address struct {
	Kind        AddressKind `json:"kind"`
	ParentID    string      `json:"parent_id,omitempty"`
	ContainerID string      `json:"container_id,omitempty"`
	Location    *Location   `json:"location,omitempty"`
	OwnerID     string      `json:"owner_id,omitempty"`
}

func (a Address) String() string {
	switch a.Kind {
	case AddrOwner:
		return "owner:" + a.OwnerID
	case AddrGrid:
		if a.Location != nil {
			return fmt.Sprintf("grid:%s/%s@%d,%d", a.ParentID, a.ContainerID, a.Location.X, a.Location.Y)
		}
	}
	return fmt.Sprintf("%s:%s/%s", a.Kind, a.ParentID, a.ContainerID)
}

// MoveOperation relocates an item subtree.
type MoveOperation struct {
	ItemID string  `json:"item_id"`
	From   Address `json:"from"`
	To     Address `json:"to"`
	Seq    uint16  `json:"seq"`
}

func (*MoveOperation) Tag() Tag { return TagMoveOperation }

// SplitOperation moves Count units of a stack into a new item.
type SplitOperation struct {
	ItemID string  `json:"item_id"`
	From   Address `json:"from"`
	To     Address `json:"to"`
	Count  uint32  `json:"count"`
	Seq    uint16  `json:"seq"`
}

func (*SplitOperation) Tag() Tag { return TagSplitOperation }
