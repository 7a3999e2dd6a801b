package world

import (
	"fmt"

	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/protocol"
)

// ApplyMove relinks the subtree of op.ItemID to op.To and re-values the
// trees it left and joined. The set of arena ids is unchanged.
func (s *State) ApplyMove(op *entity.MoveOperation) error {
	items := s.Items()
	n, ok := items.Get(op.ItemID)
	if !ok {
		return fmt.Errorf("move %s: %w", op.ItemID, ErrUnknownItem)
	}
	oldRoot, _ := items.Root(n.ID)
	oldRootID := oldRoot.ID
	pos := s.rootPosition(oldRootID)

	switch op.To.Kind {
	case entity.AddrOwner:
		if root, ok := s.ownerRoot(op.To.OwnerID); ok {
			if items.IsAncestor(n.ID, root.ID) {
				return fmt.Errorf("move %s to owner %s: %w", n.ID, op.To.OwnerID, ErrMoveCycle)
			}
			items.attach(n, root, entity.AddrOwner, "", nil)
		} else {
			if c, ok := s.Loot.ByRoot(n.ID); ok {
				s.Loot.drop(c)
			}
			s.Loot.adopt(op.To.OwnerID, n, pos)
		}
	case entity.AddrSlot, entity.AddrGrid, entity.AddrStack:
		parent, ok := items.Get(op.To.ParentID)
		if !ok {
			return fmt.Errorf("move %s into %s: %w", n.ID, op.To.ParentID, ErrUnknownItem)
		}
		if items.IsAncestor(n.ID, parent.ID) {
			return fmt.Errorf("move %s into %s: %w", n.ID, parent.ID, ErrMoveCycle)
		}
		items.attach(n, parent, op.To.Kind, op.To.ContainerID, op.To.Location)
	default:
		return fmt.Errorf("move %s: kind %d: %w", n.ID, op.To.Kind, entity.ErrBadAddress)
	}
	s.MovesTotal++

	newRoot, _ := items.Root(n.ID)
	s.refreshRoot(oldRootID)
	if newRoot.ID != oldRootID {
		s.refreshRoot(newRoot.ID)
	}
	s.logger.Debug().
		Str("item", n.ID).
		Str("from", op.From.String()).
		Str("to", op.To.String()).
		Msg("Item moved")
	return nil
}

// ApplySplit validates a split and records it. Trees are not changed.
func (s *State) ApplySplit(op *entity.SplitOperation) error {
	n, ok := s.Items().Get(op.ItemID)
	if !ok {
		return fmt.Errorf("split %s: %w", op.ItemID, ErrUnknownItem)
	}
	if op.Count == 0 || op.Count >= n.StackCount {
		return fmt.Errorf("split %s: %d of %d: %w", op.ItemID, op.Count, n.StackCount, ErrBadSplit)
	}
	s.Splits = append(s.Splits, *op)
	if len(s.Splits) > s.maxSplits {
		s.Splits = s.Splits[len(s.Splits)-s.maxSplits:]
	}
	return nil
}

// ownerRoot resolves an owner id to the root of the tree it owns.
func (s *State) ownerRoot(owner string) (*Node, bool) {
	if c, ok := s.Loot.Get(owner); ok {
		return s.Items().Get(c.RootID)
	}
	if p, ok := s.PlayerByOwner(owner); ok && p.InventoryRoot != "" {
		return s.Items().Get(p.InventoryRoot)
	}
	return nil, false
}

func (s *State) rootPosition(rootID string) protocol.Vector3 {
	if c, ok := s.Loot.ByRoot(rootID); ok {
		return c.Position
	}
	for _, p := range s.Players {
		if p.InventoryRoot == rootID {
			return p.Position
		}
	}
	return protocol.Vector3{}
}

// refreshRoot re-values whatever owns rootID: a crate, a player or both
// when a player's inventory was just handed to a crate.
func (s *State) refreshRoot(rootID string) {
	if _, ok := s.Loot.ByRoot(rootID); ok {
		s.Loot.Refresh(rootID)
	}
	for _, p := range s.Players {
		if p.InventoryRoot == rootID {
			s.refreshPlayer(p)
			return
		}
	}
}
