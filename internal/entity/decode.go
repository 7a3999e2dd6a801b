package entity

import (
	"fmt"

	"github.com/raidscope/raidscope/internal/protocol"
)

const (
	maxDepth       = 48
	maxCustomID    = 10
	maxCorpseSide  = 10
	maxListEntries = 1 << 16
)

type decoder struct {
	r     *protocol.ByteReader
	depth int
}

// Decode reads one tagged entity. An unknown tag yields Unknown and
// consumes only the tag byte. Errors carry the tag and the offset where the
// entity started.
func Decode(r *protocol.ByteReader) (Entity, error) {
	d := &decoder{r: r}
	return d.entity()
}

// DecodeMany reads a u32 count followed by up to that many entities and
// stops early at the first Unknown, which is not included in the result.
// The declared count is only an upper bound.
func DecodeMany(r *protocol.ByteReader) ([]Entity, error) {
	d := &decoder{r: r}
	n, err := d.listCount()
	if err != nil {
		return nil, fmt.Errorf("entity list: %w", err)
	}
	out := make([]Entity, 0, min(n, 64))
	for i := 0; i < n; i++ {
		e, err := d.entity()
		if err != nil {
			return out, fmt.Errorf("entity %d of %d: %w", i, n, err)
		}
		if _, ok := e.(Unknown); ok {
			return out, nil
		}
		out = append(out, e)
	}
	return out, nil
}

// DecodeItem reads an untagged item tree.
func DecodeItem(r *protocol.ByteReader) (*Item, error) {
	d := &decoder{r: r}
	return d.item()
}

// DecodeInventory reads an untagged inventory descriptor.
func DecodeInventory(r *protocol.ByteReader) (*InventoryDescriptor, error) {
	d := &decoder{r: r}
	return d.inventory()
}

func (d *decoder) entity() (Entity, error) {
	start := d.r.Offset()
	b, err := d.r.ReadU8()
	if err != nil {
		return nil, fmt.Errorf("entity tag at offset %d: %w", start, err)
	}
	tag := Tag(b)
	if !tag.Known() {
		return Unknown{Code: tag}, nil
	}
	if d.depth >= maxDepth {
		return nil, fmt.Errorf("entity %s at offset %d: %w", tag, start, ErrTooDeep)
	}
	d.depth++
	e, err := d.body(tag)
	d.depth--
	if err != nil {
		return nil, fmt.Errorf("entity %s at offset %d: %w", tag, start, err)
	}
	return e, nil
}

// component reads a tagged entity nested inside another one. An unknown
// tag cannot be skipped there, so it is an error.
func (d *decoder) component() (Entity, error) {
	e, err := d.entity()
	if err != nil {
		return nil, err
	}
	if u, ok := e.(Unknown); ok {
		return nil, fmt.Errorf("tag %d at offset %d: %w", uint8(u.Code), d.r.Offset()-1, ErrUnknownComponent)
	}
	return e, nil
}

func (d *decoder) body(tag Tag) (Entity, error) {
	r := d.r
	switch tag {
	case TagQuaternion:
		q, err := r.ReadQuaternion()
		return Quaternion{q}, err
	case TagTransform:
		t, err := d.transform()
		return t, err
	case TagVector3:
		v, err := r.ReadVector3()
		return Vector3{v}, err
	case TagWeightedLootSpawn:
		return d.weightedLootSpawn()
	case TagInventoryDescriptor:
		return d.inventory()
	case TagFastAccess:
		return d.fastAccess()
	case TagSlotDescriptor:
		return d.slot()
	case TagItemInGrid:
		return d.gridItem()
	case TagGrid:
		return d.grid()
	case TagStackSlot:
		return d.stackSlot()
	case TagItem:
		return d.item()
	case TagFoodDrink:
		v, err := r.ReadF32()
		return FoodDrink{HP: v}, err
	case TagResource:
		v, err := r.ReadF32()
		return Resource{Value: v}, err
	case TagLight:
		var l Light
		var err error
		if l.Active, err = r.ReadBool(); err != nil {
			return nil, err
		}
		l.Mode, err = r.ReadU32()
		return l, err
	case TagLockable:
		v, err := r.ReadBool()
		return Lockable{Locked: v}, err
	case TagMapComponent:
		return d.mapComponent()
	case TagMedkit:
		v, err := r.ReadF32()
		return Medkit{HP: v}, err
	case TagRepairable:
		var rp Repairable
		var err error
		if rp.Durability, err = r.ReadF32(); err != nil {
			return nil, err
		}
		rp.MaxDurability, err = r.ReadF32()
		return rp, err
	case TagSight:
		return d.sight()
	case TagTogglable:
		v, err := r.ReadBool()
		return Togglable{On: v}, err
	case TagFaceShield:
		var fs FaceShield
		var err error
		if fs.Hits, err = r.ReadU8(); err != nil {
			return nil, err
		}
		fs.HitsSeed, err = r.ReadU8()
		return fs, err
	case TagFoldable:
		v, err := r.ReadBool()
		return Foldable{Folded: v}, err
	case TagFireMode:
		v, err := r.ReadU32()
		return FireMode{Mode: v}, err
	case TagDogtag:
		return d.dogtag()
	case TagNameTag:
		var nt NameTag
		var err error
		if nt.Name, err = r.ReadString(); err != nil {
			return nil, err
		}
		nt.Color, err = r.ReadU32()
		return nt, err
	case TagKeyUsages:
		v, err := r.ReadU32()
		return KeyUsages{Uses: v}, err
	case TagJSONLoot:
		l := &JSONLoot{}
		return l, d.lootBody(l)
	case TagJSONCorpse:
		return d.corpse()
	case TagMoveOperation:
		return d.move()
	case TagSplitOperation:
		return d.split()
	case TagResourceKey:
		return d.resourceKey()
	}
	return Unknown{Code: tag}, nil
}

// listCount reads a top-level entity count, which may overstate what follows.
func (d *decoder) listCount() (int, error) {
	n, err := d.r.ReadU32()
	if err != nil {
		return 0, err
	}
	if n > maxListEntries {
		return 0, fmt.Errorf("count %d: %w", n, protocol.ErrStreamExhausted)
	}
	return int(n), nil
}

// count reads an exact nested count, each entry taking at least a byte.
func (d *decoder) count() (int, error) {
	n, err := d.r.ReadU32()
	if err != nil {
		return 0, err
	}
	if n > maxListEntries || int(n) > d.r.Remaining() {
		return 0, fmt.Errorf("count %d with %d bytes left: %w", n, d.r.Remaining(), protocol.ErrStreamExhausted)
	}
	return int(n), nil
}

func (d *decoder) id() (string, error) {
	s, err := d.r.ReadString()
	if err != nil {
		return "", err
	}
	if len(s) != IDLen {
		return "", fmt.Errorf("%q has length %d: %w", s, len(s), ErrBadID)
	}
	return s, nil
}

func (d *decoder) transform() (Transform, error) {
	pos, err := d.r.ReadVector3()
	if err != nil {
		return Transform{}, err
	}
	rot, err := d.r.ReadQuaternion()
	return Transform{Position: pos, Rotation: rot}, err
}

func (d *decoder) weightedLootSpawn() (WeightedLootSpawn, error) {
	var w WeightedLootSpawn
	var err error
	if w.Name, err = d.r.ReadString(); err != nil {
		return w, err
	}
	if w.Weight, err = d.r.ReadF32(); err != nil {
		return w, err
	}
	if w.Position, err = d.r.ReadVector3(); err != nil {
		return w, err
	}
	w.Rotation, err = d.r.ReadVector3()
	return w, err
}

func (d *decoder) optionalItem() (*Item, error) {
	present, err := d.r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	return d.item()
}

func (d *decoder) inventory() (*InventoryDescriptor, error) {
	inv := &InventoryDescriptor{}
	var err error
	if inv.Equipment, err = d.item(); err != nil {
		return nil, fmt.Errorf("equipment: %w", err)
	}
	if inv.Stash, err = d.optionalItem(); err != nil {
		return nil, fmt.Errorf("stash: %w", err)
	}
	if inv.QuestRaidItems, err = d.optionalItem(); err != nil {
		return nil, fmt.Errorf("quest raid items: %w", err)
	}
	if inv.QuestStashItems, err = d.optionalItem(); err != nil {
		return nil, fmt.Errorf("quest stash items: %w", err)
	}
	if inv.FastAccess, err = d.fastAccess(); err != nil {
		return nil, fmt.Errorf("fast access: %w", err)
	}
	return inv, nil
}

func (d *decoder) fastAccess() (FastAccess, error) {
	n, err := d.count()
	if err != nil {
		return FastAccess{}, err
	}
	fa := FastAccess{Items: make(map[uint32]string, n)}
	for i := 0; i < n; i++ {
		slot, err := d.r.ReadU32()
		if err != nil {
			return fa, err
		}
		id, err := d.r.ReadString()
		if err != nil {
			return fa, err
		}
		fa.Items[slot] = id
	}
	return fa, nil
}

func (d *decoder) slot() (Slot, error) {
	id, err := d.r.ReadString()
	if err != nil {
		return Slot{}, err
	}
	it, err := d.item()
	if err != nil {
		return Slot{}, fmt.Errorf("slot %s: %w", id, err)
	}
	return Slot{ID: id, Item: it}, nil
}

func (d *decoder) location() (Location, error) {
	var l Location
	var err error
	if l.X, err = d.r.ReadU32(); err != nil {
		return l, err
	}
	if l.Y, err = d.r.ReadU32(); err != nil {
		return l, err
	}
	if l.Rotation, err = d.r.ReadU32(); err != nil {
		return l, err
	}
	l.Searched, err = d.r.ReadBool()
	return l, err
}

func (d *decoder) gridItem() (GridItem, error) {
	loc, err := d.location()
	if err != nil {
		return GridItem{}, err
	}
	it, err := d.item()
	if err != nil {
		return GridItem{}, err
	}
	return GridItem{Location: loc, Item: it}, nil
}

func (d *decoder) grid() (Grid, error) {
	id, err := d.r.ReadString()
	if err != nil {
		return Grid{}, err
	}
	n, err := d.count()
	if err != nil {
		return Grid{}, fmt.Errorf("grid %s: %w", id, err)
	}
	g := Grid{ID: id, Items: make([]GridItem, 0, n)}
	for i := 0; i < n; i++ {
		gi, err := d.gridItem()
		if err != nil {
			return Grid{}, fmt.Errorf("grid %s item %d: %w", id, i, err)
		}
		g.Items = append(g.Items, gi)
	}
	return g, nil
}

func (d *decoder) stackSlot() (StackSlot, error) {
	id, err := d.r.ReadString()
	if err != nil {
		return StackSlot{}, err
	}
	n, err := d.count()
	if err != nil {
		return StackSlot{}, fmt.Errorf("stack slot %s: %w", id, err)
	}
	ss := StackSlot{ID: id, Items: make([]*Item, 0, n)}
	for i := 0; i < n; i++ {
		it, err := d.item()
		if err != nil {
			return StackSlot{}, fmt.Errorf("stack slot %s item %d: %w", id, i, err)
		}
		ss.Items = append(ss.Items, it)
	}
	return ss, nil
}

func (d *decoder) item() (*Item, error) {
	if d.depth >= maxDepth {
		return nil, ErrTooDeep
	}
	d.depth++
	defer func() { d.depth-- }()

	it := &Item{}
	var err error
	if it.ID, err = d.id(); err != nil {
		return nil, fmt.Errorf("item id: %w", err)
	}
	if it.TemplateID, err = d.id(); err != nil {
		return nil, fmt.Errorf("item %s template: %w", it.ID, err)
	}
	if it.StackCount, err = d.r.ReadU32(); err != nil {
		return nil, fmt.Errorf("item %s: %w", it.ID, err)
	}
	if it.IsRaid, err = d.r.ReadBool(); err != nil {
		return nil, fmt.Errorf("item %s: %w", it.ID, err)
	}

	n, err := d.count()
	if err != nil {
		return nil, fmt.Errorf("item %s components: %w", it.ID, err)
	}
	for i := 0; i < n; i++ {
		c, err := d.component()
		if err != nil {
			return nil, fmt.Errorf("item %s component %d: %w", it.ID, i, err)
		}
		it.Components = append(it.Components, c)
	}

	if n, err = d.count(); err != nil {
		return nil, fmt.Errorf("item %s slots: %w", it.ID, err)
	}
	for i := 0; i < n; i++ {
		s, err := d.slot()
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		it.Slots = append(it.Slots, s)
	}

	if n, err = d.count(); err != nil {
		return nil, fmt.Errorf("item %s grids: %w", it.ID, err)
	}
	for i := 0; i < n; i++ {
		g, err := d.grid()
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		it.Grids = append(it.Grids, g)
	}

	if n, err = d.count(); err != nil {
		return nil, fmt.Errorf("item %s stack slots: %w", it.ID, err)
	}
	for i := 0; i < n; i++ {
		ss, err := d.stackSlot()
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		it.StackSlots = append(it.StackSlots, ss)
	}
	return it, nil
}

func (d *decoder) mapComponent() (MapComponent, error) {
	n, err := d.count()
	if err != nil {
		return MapComponent{}, err
	}
	m := MapComponent{Markers: make([]MapMarker, 0, n)}
	for i := 0; i < n; i++ {
		var mk MapMarker
		if mk.Type, err = d.r.ReadU32(); err != nil {
			return m, err
		}
		if mk.X, err = d.r.ReadU32(); err != nil {
			return m, err
		}
		if mk.Y, err = d.r.ReadU32(); err != nil {
			return m, err
		}
		if mk.Note, err = d.r.ReadString(); err != nil {
			return m, err
		}
		m.Markers = append(m.Markers, mk)
	}
	return m, nil
}

func (d *decoder) u32List() ([]uint32, error) {
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		if out[i], err = d.r.ReadU32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) sight() (Sight, error) {
	var s Sight
	var err error
	if s.SelectedScope, err = d.r.ReadU32(); err != nil {
		return s, err
	}
	if s.Modes, err = d.u32List(); err != nil {
		return s, err
	}
	s.Calibrations, err = d.u32List()
	return s, err
}

func (d *decoder) dogtag() (Dogtag, error) {
	var t Dogtag
	var err error
	if t.Nickname, err = d.r.ReadString(); err != nil {
		return t, err
	}
	if t.Side, err = d.r.ReadU32(); err != nil {
		return t, err
	}
	if t.Level, err = d.r.ReadU32(); err != nil {
		return t, err
	}
	if t.Time, err = d.r.ReadF64(); err != nil {
		return t, err
	}
	if t.Status, err = d.r.ReadString(); err != nil {
		return t, err
	}
	if t.Killer, err = d.r.ReadString(); err != nil {
		return t, err
	}
	t.Weapon, err = d.r.ReadString()
	return t, err
}

// lootBody reads the fields shared by loose loot and corpses.
func (d *decoder) lootBody(l *JSONLoot) error {
	r := d.r
	hasID, err := r.ReadBool()
	if err != nil {
		return err
	}
	if hasID {
		if l.ID, err = r.ReadString(); err != nil {
			return err
		}
	}
	if l.Position, err = r.ReadVector3(); err != nil {
		return err
	}
	if l.Rotation, err = r.ReadVector3(); err != nil {
		return err
	}
	if l.Item, err = d.item(); err != nil {
		return fmt.Errorf("loot %s: %w", l.ID, err)
	}
	hasProfiles, err := r.ReadBool()
	if err != nil {
		return err
	}
	if hasProfiles {
		n, err := d.count()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			p, err := r.ReadString()
			if err != nil {
				return err
			}
			l.Profiles = append(l.Profiles, p)
		}
	}
	if l.IsStatic, err = r.ReadBool(); err != nil {
		return err
	}
	if l.UseGravity, err = r.ReadBool(); err != nil {
		return err
	}
	if l.RandomRotation, err = r.ReadBool(); err != nil {
		return err
	}
	if l.Shift, err = r.ReadVector3(); err != nil {
		return err
	}
	l.PlatformID, err = r.ReadU16()
	return err
}

func (d *decoder) corpse() (*JSONCorpse, error) {
	c := &JSONCorpse{}
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	c.Customization = make(map[uint32]string, n)
	for i := 0; i < n; i++ {
		id, err := d.r.ReadU32()
		if err != nil {
			return nil, err
		}
		if id >= maxCustomID {
			return nil, fmt.Errorf("customization id %d: %w", id, ErrOutOfRange)
		}
		if c.Customization[id], err = d.r.ReadString(); err != nil {
			return nil, err
		}
	}
	if c.Side, err = d.r.ReadU32(); err != nil {
		return nil, err
	}
	if c.Side >= maxCorpseSide {
		return nil, fmt.Errorf("corpse side %d: %w", c.Side, ErrOutOfRange)
	}
	if n, err = d.count(); err != nil {
		return nil, err
	}
	c.Bones = make([]Transform, 0, n)
	for i := 0; i < n; i++ {
		t, err := d.transform()
		if err != nil {
			return nil, fmt.Errorf("bone %d: %w", i, err)
		}
		c.Bones = append(c.Bones, t)
	}
	if err := d.lootBody(&c.JSONLoot); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *decoder) address() (Address, error) {
	k, err := d.r.ReadU8()
	if err != nil {
		return Address{}, err
	}
	a := Address{Kind: AddressKind(k)}
	switch a.Kind {
	case AddrSlot, AddrGrid, AddrStack:
		if a.ParentID, err = d.id(); err != nil {
			return a, fmt.Errorf("address parent: %w", err)
		}
		if a.ContainerID, err = d.r.ReadString(); err != nil {
			return a, err
		}
		if a.Kind == AddrGrid {
			loc, err := d.location()
			if err != nil {
				return a, err
			}
			a.Location = &loc
		}
	case AddrOwner:
		if a.OwnerID, err = d.r.ReadString(); err != nil {
			return a, err
		}
	default:
		return a, fmt.Errorf("kind %d: %w", k, ErrBadAddress)
	}
	return a, nil
}

func (d *decoder) move() (*MoveOperation, error) {
	op := &MoveOperation{}
	var err error
	if op.ItemID, err = d.id(); err != nil {
		return nil, err
	}
	if op.From, err = d.address(); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if op.To, err = d.address(); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if op.Seq, err = d.r.ReadU16(); err != nil {
		return nil, err
	}
	return op, nil
}

func (d *decoder) split() (*SplitOperation, error) {
	op := &SplitOperation{}
	var err error
	if op.ItemID, err = d.id(); err != nil {
		return nil, err
	}
	if op.From, err = d.address(); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if op.To, err = d.address(); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if op.Count, err = d.r.ReadU32(); err != nil {
		return nil, err
	}
	if op.Seq, err = d.r.ReadU16(); err != nil {
		return nil, err
	}
	return op, nil
}

func (d *decoder) resourceKey() (ResourceKey, error) {
	var k ResourceKey
	has, err := d.r.ReadBool()
	if err != nil {
		return k, err
	}
	if has {
		if k.Path, err = d.r.ReadString(); err != nil {
			return k, err
		}
	}
	if has, err = d.r.ReadBool(); err != nil {
		return k, err
	}
	if has {
		k.RCID, err = d.r.ReadString()
	}
	return k, err
}
