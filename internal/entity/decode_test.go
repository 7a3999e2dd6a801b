package entity

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/raidscope/raidscope/internal/protocol"
)

func testID(prefix string) string {
	return prefix + strings.Repeat("0", IDLen-len(prefix))
}

func leaf(id, tpl string) *Item {
	return &Item{ID: testID(id), TemplateID: testID(tpl), StackCount: 1}
}

func backpack() *Item {
	ammo := leaf("a1", "t-ammo")
	ammo.StackCount = 30
	mag := leaf("m1", "t-mag")
	mag.StackSlots = []StackSlot{{ID: "cartridges", Items: []*Item{ammo}}}

	rifle := leaf("r1", "t-rifle")
	rifle.Components = []Entity{Repairable{Durability: 80, MaxDurability: 100}, FireMode{Mode: 1}}
	rifle.Slots = []Slot{{ID: "mod_magazine", Item: mag}}

	food := leaf("f1", "t-food")
	food.Components = []Entity{FoodDrink{HP: 50}}

	bag := leaf("b1", "t-bag")
	bag.IsRaid = true
	bag.Components = []Entity{NameTag{Name: "loot", Color: 3}}
	bag.Grids = []Grid{{ID: "main", Items: []GridItem{
		{Location: Location{X: 0, Y: 0}, Item: rifle},
		{Location: Location{X: 3, Y: 1, Rotation: 1, Searched: true}, Item: food},
	}}}
	return bag
}

func encoded(t *testing.T, e Entity) *protocol.ByteReader {
	t.Helper()
	b := protocol.NewPacketBuilder()
	if err := Encode(b, e); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return protocol.NewByteReader(b.Build())
}

func TestDecodeItemTree(t *testing.T) {
	want := backpack()
	r := encoded(t, want)

	got, err := Decode(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected stream consumed, %d bytes left", r.Remaining())
	}

	it := got.(*Item)
	if it.Count() != 5 {
		t.Errorf("expected 5 items in tree, got %d", it.Count())
	}
	children := it.Children()
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[1].Kind != AddrGrid || children[1].Location == nil || children[1].Location.X != 3 {
		t.Errorf("expected second child in grid at x=3, got %+v", children[1])
	}
	rifle := children[0].Item
	if c := rifle.Children(); len(c) != 1 || c[0].Kind != AddrSlot || c[0].Container != "mod_magazine" {
		t.Errorf("expected rifle magazine slot, got %+v", c)
	}
}

func TestDecodeManyStopsAtUnknown(t *testing.T) {
	b := protocol.NewPacketBuilder()
	b.WriteUint32(4)
	Encode(b, Vector3{protocol.Vector3{X: 1, Y: 2, Z: 3}})
	Encode(b, FoodDrink{HP: 10})
	b.WriteByte(3)
	b.WriteBytes([]byte{0xde, 0xad})

	r := protocol.NewByteReader(b.Build())
	got, err := DecodeMany(r)
	if err != nil {
		t.Fatalf("decode many: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(got))
	}
	if v, ok := got[0].(Vector3); !ok || v.Y != 2 {
		t.Errorf("expected vector with y=2, got %#v", got[0])
	}
	if r.Remaining() != 2 {
		t.Errorf("expected 2 bytes left after unknown tag, got %d", r.Remaining())
	}
}

func TestDecodeManyDeclaredCount(t *testing.T) {
	vec := Vector3{protocol.Vector3{X: 1, Y: 2, Z: 3}}
	tests := []struct {
		name    string
		count   uint32
		tail    []byte
		vectors int
		want    int
		wantErr error
	}{
		{"overstated then unknown", 100, []byte{200}, 1, 1, nil},
		{"overstated several then unknown", 1000, []byte{33, 9, 9}, 3, 3, nil},
		{"overstated then end of data", 100, nil, 2, 2, protocol.ErrStreamExhausted},
		{"exact", 2, nil, 2, 2, nil},
		{"fewer than present", 1, nil, 3, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := protocol.NewPacketBuilder()
			b.WriteUint32(tt.count)
			for i := 0; i < tt.vectors; i++ {
				Encode(b, vec)
			}
			b.WriteBytes(tt.tail)

			got, err := DecodeMany(protocol.NewByteReader(b.Build()))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d entities, got %d", tt.want, len(got))
			}
			for i, e := range got {
				if !reflect.DeepEqual(e, vec) {
					t.Errorf("entity %d: expected %#v, got %#v", i, vec, e)
				}
			}
		})
	}
}

func TestDecodeUnknownTopLevel(t *testing.T) {
	for _, code := range []byte{3, 12, 33, 200} {
		e, err := Decode(protocol.NewByteReader([]byte{code, 1, 2}))
		if err != nil {
			t.Fatalf("tag %d: unexpected error %v", code, err)
		}
		u, ok := e.(Unknown)
		if !ok || u.Code != Tag(code) {
			t.Errorf("expected Unknown{%d}, got %#v", code, e)
		}
	}
}

func TestDecodeBadID(t *testing.T) {
	it := &Item{ID: "short", TemplateID: testID("t")}
	_, err := Decode(encoded(t, it))
	if !errors.Is(err, ErrBadID) {
		t.Fatalf("expected ErrBadID, got %v", err)
	}
	if !errors.Is(err, protocol.ErrProtocolAnomaly) {
		t.Errorf("expected anomaly classification, got %v", err)
	}
}

func TestDecodeUnknownComponent(t *testing.T) {
	b := protocol.NewPacketBuilder()
	b.WriteByte(byte(TagItem))
	b.WriteString(testID("i")).WriteString(testID("t")).WriteUint32(1).WriteBool(false)
	b.WriteUint32(1).WriteByte(12)
	b.WriteUint32(0).WriteUint32(0).WriteUint32(0)

	_, err := Decode(protocol.NewByteReader(b.Build()))
	if !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	b := protocol.NewPacketBuilder()
	Encode(b, backpack())
	data := b.Build()

	_, err := Decode(protocol.NewByteReader(data[:len(data)-3]))
	if !errors.Is(err, protocol.ErrStreamExhausted) {
		t.Fatalf("expected ErrStreamExhausted, got %v", err)
	}
}

func TestDecodeHugeCount(t *testing.T) {
	b := protocol.NewPacketBuilder()
	b.WriteUint32(1 << 20)
	_, err := DecodeMany(protocol.NewByteReader(b.Build()))
	if !errors.Is(err, protocol.ErrStreamExhausted) {
		t.Fatalf("expected ErrStreamExhausted, got %v", err)
	}
}

func TestDecodeTooDeep(t *testing.T) {
	root := leaf("d0", "t")
	cur := root
	for i := 0; i < maxDepth+2; i++ {
		next := leaf("d", "t")
		cur.Slots = []Slot{{ID: "s", Item: next}}
		cur = next
	}
	_, err := Decode(encoded(t, root))
	if !errors.Is(err, ErrTooDeep) {
		t.Fatalf("expected ErrTooDeep, got %v", err)
	}
}

func TestDecodeMove(t *testing.T) {
	want := &MoveOperation{
		ItemID: testID("f1"),
		From: Address{
			Kind:        AddrGrid,
			ParentID:    testID("b1"),
			ContainerID: "main",
			Location:    &Location{X: 3, Y: 1},
		},
		To:  Address{Kind: AddrOwner, OwnerID: "player-1"},
		Seq: 77,
	}
	got, err := Decode(encoded(t, want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if s := want.From.String(); s != "grid:"+testID("b1")+"/main@3,1" {
		t.Errorf("unexpected address string %q", s)
	}
}

func TestDecodeSplit(t *testing.T) {
	want := &SplitOperation{
		ItemID: testID("a1"),
		From:   Address{Kind: AddrStack, ParentID: testID("m1"), ContainerID: "cartridges"},
		To:     Address{Kind: AddrSlot, ParentID: testID("r1"), ContainerID: "patron_in_weapon"},
		Count:  5,
		Seq:    9,
	}
	got, err := Decode(encoded(t, want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestDecodeBadAddress(t *testing.T) {
	b := protocol.NewPacketBuilder()
	b.WriteByte(byte(TagMoveOperation)).WriteString(testID("x")).WriteByte(9)
	_, err := Decode(protocol.NewByteReader(b.Build()))
	if !errors.Is(err, ErrBadAddress) {
		t.Fatalf("expected ErrBadAddress, got %v", err)
	}
}

func TestDecodeLoot(t *testing.T) {
	want := &JSONLoot{
		ID:         "loose-1",
		Position:   protocol.Vector3{X: 10, Y: 2, Z: -5.5},
		Item:       leaf("l1", "t-gpu"),
		Profiles:   []string{"p1"},
		UseGravity: true,
		PlatformID: 4,
	}
	got, err := Decode(encoded(t, want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if _, ok := got.(Lootable); !ok {
		t.Errorf("expected loot to be Lootable")
	}
}

func TestDecodeCorpse(t *testing.T) {
	want := &JSONCorpse{
		Customization: map[uint32]string{0: "body", 2: "head"},
		Side:          1,
		Bones:         []Transform{{Position: protocol.Vector3{X: 1}, Rotation: protocol.Quaternion{W: 1}}},
		JSONLoot: JSONLoot{
			Position: protocol.Vector3{X: 1, Y: 1, Z: 1},
			Item:     backpack(),
		},
	}
	got, err := Decode(encoded(t, want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if l := got.(Lootable).Loot(); l.Item.Count() != 5 {
		t.Errorf("expected corpse equipment of 5 items, got %d", l.Item.Count())
	}
}

func TestDecodeCorpseOutOfRange(t *testing.T) {
	c := &JSONCorpse{Customization: map[uint32]string{}, Side: 12, JSONLoot: JSONLoot{Item: leaf("x", "t")}}
	_, err := Decode(encoded(t, c))
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestDecodeResourceKey(t *testing.T) {
	for _, want := range []ResourceKey{{}, {Path: "assets/x.bundle"}, {Path: "a", RCID: "rc"}} {
		got, err := Decode(encoded(t, want))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	}
}

func TestDecodeInventory(t *testing.T) {
	inv := &InventoryDescriptor{
		Equipment:  backpack(),
		Stash:      leaf("s1", "t-stash"),
		FastAccess: FastAccess{Items: map[uint32]string{4: testID("f1")}},
	}
	b := protocol.NewPacketBuilder()
	EncodeInventory(b, inv)

	got, err := DecodeInventory(protocol.NewByteReader(b.Build()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.QuestRaidItems != nil || got.QuestStashItems != nil {
		t.Errorf("expected absent quest trees")
	}
	if !reflect.DeepEqual(got, inv) {
		t.Fatalf("expected %+v, got %+v", inv, got)
	}
}

func TestTagString(t *testing.T) {
	if TagJSONCorpse.String() == "" || Tag(3).Known() {
		t.Errorf("expected named corpse tag and unknown tag 3")
	}
	if s := Tag(3).String(); s != "unknown(3)" {
		t.Errorf("expected unknown(3), got %q", s)
	}
}
