package entity

import (
	"fmt"

	"github.com/raidscope/raidscope/internal/protocol"
)

// Encode writes e with its tag. It is the inverse of Decode and is used to
// build synthetic spawn blobs.
func Encode(b *protocol.PacketBuilder, e Entity) error {
	if u, ok := e.(Unknown); ok {
		b.WriteByte(byte(u.Code))
		return nil
	}
	b.WriteByte(byte(e.Tag()))
	return encodeBody(b, e)
}

// EncodeMany writes a u32 count followed by each entity.
func EncodeMany(b *protocol.PacketBuilder, es []Entity) error {
	b.WriteUint32(uint32(len(es)))
	for _, e := range es {
		if err := Encode(b, e); err != nil {
			return err
		}
	}
	return nil
}

func encodeBody(b *protocol.PacketBuilder, e Entity) error {
	switch v := e.(type) {
	case Quaternion:
		b.WriteQuaternion(v.Quaternion)
	case Transform:
		b.WriteVector3(v.Position).WriteQuaternion(v.Rotation)
	case Vector3:
		b.WriteVector3(v.Vector3)
	case WeightedLootSpawn:
		b.WriteString(v.Name).WriteFloat32(v.Weight).WriteVector3(v.Position).WriteVector3(v.Rotation)
	case *InventoryDescriptor:
		EncodeInventory(b, v)
	case FastAccess:
		encodeFastAccess(b, v)
	case Slot:
		b.WriteString(v.ID)
		EncodeItem(b, v.Item)
	case GridItem:
		encodeLocation(b, v.Location)
		EncodeItem(b, v.Item)
	case Grid:
		encodeGrid(b, v)
	case StackSlot:
		encodeStackSlot(b, v)
	case *Item:
		EncodeItem(b, v)
	case FoodDrink:
		b.WriteFloat32(v.HP)
	case Resource:
		b.WriteFloat32(v.Value)
	case Light:
		b.WriteBool(v.Active).WriteUint32(v.Mode)
	case Lockable:
		b.WriteBool(v.Locked)
	case MapComponent:
		b.WriteUint32(uint32(len(v.Markers)))
		for _, m := range v.Markers {
			b.WriteUint32(m.Type).WriteUint32(m.X).WriteUint32(m.Y).WriteString(m.Note)
		}
	case Medkit:
		b.WriteFloat32(v.HP)
	case Repairable:
		b.WriteFloat32(v.Durability).WriteFloat32(v.MaxDurability)
	case Sight:
		b.WriteUint32(v.SelectedScope)
		for _, list := range [][]uint32{v.Modes, v.Calibrations} {
			b.WriteUint32(uint32(len(list)))
			for _, x := range list {
				b.WriteUint32(x)
			}
		}
	case Togglable:
		b.WriteBool(v.On)
	case FaceShield:
		b.WriteByte(v.Hits).WriteByte(v.HitsSeed)
	case Foldable:
		b.WriteBool(v.Folded)
	case FireMode:
		b.WriteUint32(v.Mode)
	case Dogtag:
		b.WriteString(v.Nickname).WriteUint32(v.Side).WriteUint32(v.Level).
			WriteFloat64(v.Time).WriteString(v.Status).WriteString(v.Killer).WriteString(v.Weapon)
	case NameTag:
		b.WriteString(v.Name).WriteUint32(v.Color)
	case KeyUsages:
		b.WriteUint32(v.Uses)
	case *JSONLoot:
		encodeLootBody(b, v)
	case *JSONCorpse:
		b.WriteUint32(uint32(len(v.Customization)))
		for id := uint32(0); id < maxCustomID; id++ {
			if s, ok := v.Customization[id]; ok {
				b.WriteUint32(id).WriteString(s)
			}
		}
		b.WriteUint32(v.Side)
		b.WriteUint32(uint32(len(v.Bones)))
		for _, t := range v.Bones {
			b.WriteVector3(t.Position).WriteQuaternion(t.Rotation)
		}
		encodeLootBody(b, &v.JSONLoot)
	case *MoveOperation:
		b.WriteString(v.ItemID)
		encodeAddress(b, v.From)
		encodeAddress(b, v.To)
		b.WriteUint16(v.Seq)
	case *SplitOperation:
		b.WriteString(v.ItemID)
		encodeAddress(b, v.From)
		encodeAddress(b, v.To)
		b.WriteUint32(v.Count).WriteUint16(v.Seq)
	case ResourceKey:
		b.WriteBool(v.Path != "")
		if v.Path != "" {
			b.WriteString(v.Path)
		}
		b.WriteBool(v.RCID != "")
		if v.RCID != "" {
			b.WriteString(v.RCID)
		}
	default:
		return fmt.Errorf("encode %T: unsupported entity", e)
	}
	return nil
}

// EncodeItem writes an untagged item tree.
func EncodeItem(b *protocol.PacketBuilder, it *Item) {
	b.WriteString(it.ID).WriteString(it.TemplateID).WriteUint32(it.StackCount).WriteBool(it.IsRaid)
	b.WriteUint32(uint32(len(it.Components)))
	for _, c := range it.Components {
		Encode(b, c)
	}
	b.WriteUint32(uint32(len(it.Slots)))
	for _, s := range it.Slots {
		b.WriteString(s.ID)
		EncodeItem(b, s.Item)
	}
	b.WriteUint32(uint32(len(it.Grids)))
	for _, g := range it.Grids {
		encodeGrid(b, g)
	}
	b.WriteUint32(uint32(len(it.StackSlots)))
	for _, ss := range it.StackSlots {
		encodeStackSlot(b, ss)
	}
}

// EncodeInventory writes an untagged inventory descriptor.
func EncodeInventory(b *protocol.PacketBuilder, inv *InventoryDescriptor) {
	EncodeItem(b, inv.Equipment)
	for _, opt := range []*Item{inv.Stash, inv.QuestRaidItems, inv.QuestStashItems} {
		b.WriteBool(opt != nil)
		if opt != nil {
			EncodeItem(b, opt)
		}
	}
	encodeFastAccess(b, inv.FastAccess)
}

func encodeFastAccess(b *protocol.PacketBuilder, fa FastAccess) {
	b.WriteUint32(uint32(len(fa.Items)))
	for slot, id := range fa.Items {
		b.WriteUint32(slot).WriteString(id)
	}
}

func encodeLocation(b *protocol.PacketBuilder, l Location) {
	b.WriteUint32(l.X).WriteUint32(l.Y).WriteUint32(l.Rotation).WriteBool(l.Searched)
}

func encodeGrid(b *protocol.PacketBuilder, g Grid) {
	b.WriteString(g.ID).WriteUint32(uint32(len(g.Items)))
	for _, gi := range g.Items {
		encodeLocation(b, gi.Location)
		EncodeItem(b, gi.Item)
	}
}

func encodeStackSlot(b *protocol.PacketBuilder, ss StackSlot) {
	b.WriteString(ss.ID).WriteUint32(uint32(len(ss.Items)))
	for _, it := range ss.Items {
		EncodeItem(b, it)
	}
}

func encodeLootBody(b *protocol.PacketBuilder, l *JSONLoot) {
	b.WriteBool(l.ID != "")
	if l.ID != "" {
		b.WriteString(l.ID)
	}
	b.WriteVector3(l.Position).WriteVector3(l.Rotation)
	EncodeItem(b, l.Item)
	b.WriteBool(l.Profiles != nil)
	if l.Profiles != nil {
		b.WriteUint32(uint32(len(l.Profiles)))
		for _, p := range l.Profiles {
			b.WriteString(p)
		}
	}
	b.WriteBool(l.IsStatic).WriteBool(l.UseGravity).WriteBool(l.RandomRotation)
	b.WriteVector3(l.Shift).WriteUint16(l.PlatformID)
}

func encodeAddress(b *protocol.PacketBuilder, a Address) {
	b.WriteByte(byte(a.Kind))
	switch a.Kind {
	case AddrSlot, AddrGrid, AddrStack:
		b.WriteString(a.ParentID).WriteString(a.ContainerID)
		if a.Kind == AddrGrid {
			var loc Location
			if a.Location != nil {
				loc = *a.Location
			}
			encodeLocation(b, loc)
		}
	case AddrOwner:
		b.WriteString(a.OwnerID)
	}
}
