package world

import (
	"errors"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/protocol"
)

func id(prefix string) string {
	return prefix + strings.Repeat("0", entity.IDLen-len(prefix))
}

func item(name, tpl string, children ...entity.Slot) *entity.Item {
	return &entity.Item{ID: id(name), TemplateID: id(tpl), StackCount: 1, Slots: children}
}

// equipment: eq -> [gun -> [mag], secure -> [gold], bag (grid) -> [gpu]]
func equipment() *entity.Item {
	gun := item("gun", "t-gun", entity.Slot{ID: "mod_magazine", Item: item("mag", "t-mag")})
	eq := item("eq", "t-eq",
		entity.Slot{ID: "FirstPrimaryWeapon", Item: gun},
		entity.Slot{ID: "SecuredContainer", Item: item("secure", "t-secure",
			entity.Slot{ID: "main", Item: item("gold", "t-gold")})},
	)
	bag := item("bag", "t-bag")
	bag.Grids = []entity.Grid{{ID: "main", Items: []entity.GridItem{
		{Location: entity.Location{X: 1, Y: 2}, Item: item("gpu", "t-gpu")},
	}}}
	eq.Slots = append(eq.Slots, entity.Slot{ID: "Backpack", Item: bag})
	return eq
}

func catalog() entity.StaticDescriber {
	return entity.StaticDescriber{
		id("t-eq"):     {Name: "Default Inventory", Price: 0},
		id("t-gun"):    {Name: "AK-74N", Price: 20000},
		id("t-mag"):    {Name: "Magazine", Price: 1000},
		id("t-secure"): {Name: "Gamma", Price: 500000},
		id("t-gold"):   {Name: "Golden chain", Price: 90000},
		id("t-bag"):    {Name: "Tri-Zip", Price: 30000},
		id("t-gpu"):    {Name: "Graphics card", Price: 250000},
		id("t-bolt"):   {Name: "Bolts", Price: 500},
		id("t-box"):    {Name: "Weapon box", Price: 0},
	}
}

func newState(rules LootRules) *State {
	return New(Options{Describer: catalog(), Loot: rules})
}

func allIDs(items *Items) []string {
	out := make([]string, 0, len(items.nodes))
	for k := range items.nodes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestRegisterAndRemove(t *testing.T) {
	items := NewItems()
	n := items.Register(equipment(), "owner")
	if n != 7 || items.Len() != 7 {
		t.Fatalf("expected 7 nodes, got %d (len %d)", n, items.Len())
	}
	gpu, ok := items.Get(id("gpu"))
	if !ok || gpu.ParentID != id("bag") || gpu.Kind != entity.AddrGrid || gpu.Location.Y != 2 {
		t.Fatalf("unexpected gpu node %+v", gpu)
	}
	root, _ := items.Root(id("gpu"))
	if root.ID != id("eq") || root.Owner != "owner" {
		t.Errorf("expected root eq owned by owner, got %+v", root)
	}

	if removed := items.RemoveSubtree(id("bag")); removed != 2 {
		t.Errorf("expected 2 nodes removed, got %d", removed)
	}
	eq, _ := items.Get(id("eq"))
	for _, c := range eq.Children {
		if c == id("bag") {
			t.Errorf("expected bag unlinked from equipment")
		}
	}
	if items.Len() != 5 {
		t.Errorf("expected 5 nodes left, got %d", items.Len())
	}
}

func TestRegisterReplacesDuplicate(t *testing.T) {
	items := NewItems()
	items.Register(equipment(), "a")
	items.Register(item("gun", "t-gun"), "b")

	if items.Len() != 6 {
		t.Fatalf("expected 6 nodes after replacing gun subtree, got %d", items.Len())
	}
	if _, ok := items.Get(id("mag")); ok {
		t.Errorf("expected old magazine removed with its parent")
	}
	gun, _ := items.Get(id("gun"))
	if !gun.IsRoot() || gun.Owner != "b" {
		t.Errorf("expected gun to be a root owned by b, got %+v", gun)
	}
}

func TestTotalPriceSkipsIgnoredContainers(t *testing.T) {
	items := NewItems()
	items.Register(equipment(), "p")
	p := NewPricer(catalog(), DefaultIgnoredContainers)

	want := int64(20000 + 1000 + 30000 + 250000)
	if got := p.TotalPrice(items, id("eq")); got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
	// Ignored only directly below the root.
	if got := p.TotalPrice(items, id("secure")); got != 590000 {
		t.Errorf("expected secure container priced on its own as 590000, got %d", got)
	}
}

func TestTotalPriceStack(t *testing.T) {
	items := NewItems()
	bolts := item("bolts", "t-bolt")
	bolts.StackCount = 4
	items.Register(bolts, "c")
	if got := NewPricer(catalog(), nil).TotalPrice(items, bolts.ID); got != 2000 {
		t.Errorf("expected 2000, got %d", got)
	}
	if got := NewPricer(nil, nil).TotalPrice(items, bolts.ID); got != 0 {
		t.Errorf("expected 0 without catalog, got %d", got)
	}
}

func loot(lootID string, root *entity.Item) *entity.JSONLoot {
	return &entity.JSONLoot{ID: lootID, Item: root, Position: protocol.Vector3{X: 5}}
}

func TestCrateBuckets(t *testing.T) {
	s := newState(LootRules{Threshold: 50000, IgnoredPrefixes: []string{"Weapon"}})

	cheap := s.Loot.Add(loot("cheap", item("bolts", "t-bolt")))
	rich := s.Loot.Add(loot("rich", item("gpu", "t-gpu")))
	box := item("box", "t-box")
	box.Grids = []entity.Grid{{ID: "main", Items: []entity.GridItem{{Item: item("gpu2", "t-gpu")}}}}
	boxed := s.Loot.Add(loot("boxed", box))

	if !s.Loot.IsVisible(rich.ID) || !s.Loot.IsHidden(cheap.ID) {
		t.Fatalf("expected rich visible and cheap hidden")
	}
	if rich.Name != "Graphics card" || rich.Price != 250000 {
		t.Errorf("unexpected rich crate %+v", rich)
	}
	if !s.Loot.IsHidden(boxed.ID) {
		t.Errorf("expected crate with ignored name prefix hidden despite price %d", boxed.Price)
	}

	s.Loot.Want(id("t-bolt"))
	if !s.Loot.IsVisible("cheap") || len(s.Loot.WantedCrates()) != 1 {
		t.Errorf("expected wanted crate visible and in wanted bucket")
	}
	s.Loot.Unwant(id("t-bolt"))
	if !s.Loot.IsHidden("cheap") || len(s.Loot.WantedCrates()) != 0 {
		t.Errorf("expected crate hidden again after unwant")
	}

	s.Loot.Hide("rich")
	if !s.Loot.IsHidden("rich") {
		t.Errorf("expected manually hidden crate in hidden bucket")
	}
	s.Loot.Reclassify()
	if s.Loot.IsVisible("rich") {
		t.Errorf("expected manual hide to survive reclassify")
	}
	if s.Loot.Hide("missing") {
		t.Errorf("expected hide of unknown crate to fail")
	}
}

func TestAddLootFromSpawnList(t *testing.T) {
	s := newState(LootRules{})
	corpse := &entity.JSONCorpse{JSONLoot: *loot("", equipment())}
	crates := s.AddLoot([]entity.Entity{
		loot("a", item("chain", "t-gold")),
		entity.Vector3{},
		corpse,
	})
	if len(crates) != 2 {
		t.Fatalf("expected 2 crates, got %d", len(crates))
	}
	c, ok := s.Loot.Get(id("eq"))
	if !ok || !c.Corpse || c.Items != 7 {
		t.Errorf("expected corpse keyed by root id with 7 items, got %+v", c)
	}
}

func spawnPlayer(s *State, channel uint8, me bool) *Player {
	p := &Player{ProfileID: uint32(channel) + 100, Channel: channel, Me: me, Alive: true}
	p.ApplyProfile(Profile{Info: ProfileInfo{Nickname: "p", Side: "Usec", Level: 20}})
	s.AddPlayer(p, equipment())
	return p
}

func TestPlayers(t *testing.T) {
	s := newState(LootRules{})
	p := spawnPlayer(s, 3, false)

	if p.LootPrice != 301000 {
		t.Errorf("expected loot price 301000, got %d", p.LootPrice)
	}
	if p.InventoryRoot != id("eq") || s.Items().Len() != 7 {
		t.Errorf("expected inventory registered, got root %q and %d items", p.InventoryRoot, s.Items().Len())
	}
	if _, err := s.RemovePlayer(3); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Items().Len() != 0 {
		t.Errorf("expected inventory removed with player, %d items left", s.Items().Len())
	}
	if _, err := s.RemovePlayer(3); !errors.Is(err, ErrUnknownPlayer) {
		t.Errorf("expected ErrUnknownPlayer, got %v", err)
	}

	me := spawnPlayer(s, 1, true)
	if s.Me != me {
		t.Errorf("expected me to be tracked")
	}
}

func TestProfile(t *testing.T) {
	p := &Player{Channel: 9}
	p.ApplyProfile(Profile{Info: ProfileInfo{Nickname: "Scav", Side: "Savage", Level: 1}, SurvivorClass: "Survivor"})
	if !p.NPC || p.Side != "SCAV" {
		t.Errorf("expected scav bot, got %+v", p)
	}
	if s := p.String(); s != "[BOT/SCAV/Surv] Scav[9]" {
		t.Errorf("unexpected string %q", s)
	}
	p.ApplyProfile(Profile{Info: ProfileInfo{Nickname: "Pmc", Side: "Bear", Level: 42}, SurvivorClass: "Neutralizer"})
	if p.NPC || p.String() != "[42/Bear/Neut] Pmc[9]" {
		t.Errorf("unexpected player %q", p.String())
	}
}

func TestApplyMoveBetweenCrates(t *testing.T) {
	s := newState(LootRules{Threshold: 100000})
	bag := item("bag", "t-bag")
	bag.Grids = []entity.Grid{{ID: "main", Items: []entity.GridItem{{Item: item("gpu", "t-gpu")}}}}
	s.Loot.Add(loot("a", bag))
	s.Loot.Add(loot("b", item("box", "t-box")))
	before := allIDs(s.Items())

	err := s.ApplyMove(&entity.MoveOperation{
		ItemID: id("gpu"),
		From:   entity.Address{Kind: entity.AddrGrid, ParentID: id("bag"), ContainerID: "main"},
		To:     entity.Address{Kind: entity.AddrGrid, ParentID: id("box"), ContainerID: "main", Location: &entity.Location{X: 2}},
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	after := allIDs(s.Items())
	if strings.Join(before, ",") != strings.Join(after, ",") {
		t.Errorf("expected arena ids preserved, got %v then %v", before, after)
	}
	a, _ := s.Loot.Get("a")
	b, _ := s.Loot.Get("b")
	if a.Price != 30000 || b.Price != 250000 {
		t.Errorf("expected prices re-valued to 30000 and 250000, got %d and %d", a.Price, b.Price)
	}
	if s.Loot.IsVisible("a") || !s.Loot.IsVisible("b") {
		t.Errorf("expected buckets to follow the gpu")
	}
	gpu, _ := s.Items().Get(id("gpu"))
	if gpu.ParentID != id("box") || gpu.Location == nil || gpu.Location.X != 2 {
		t.Errorf("expected gpu linked into box, got %+v", gpu)
	}
}

func TestApplyMoveRejectsCycle(t *testing.T) {
	s := newState(LootRules{})
	s.Loot.Add(loot("a", equipment()))

	err := s.ApplyMove(&entity.MoveOperation{
		ItemID: id("bag"),
		To:     entity.Address{Kind: entity.AddrGrid, ParentID: id("gpu"), ContainerID: "main"},
	})
	if !errors.Is(err, ErrMoveCycle) {
		t.Fatalf("expected ErrMoveCycle, got %v", err)
	}
	gpu, _ := s.Items().Get(id("gpu"))
	if gpu.ParentID != id("bag") {
		t.Errorf("expected tree untouched after rejected move")
	}
}

func TestApplyMoveUnknown(t *testing.T) {
	s := newState(LootRules{})
	s.Loot.Add(loot("a", item("gpu", "t-gpu")))

	err := s.ApplyMove(&entity.MoveOperation{ItemID: id("nope"), To: entity.Address{Kind: entity.AddrOwner, OwnerID: "x"}})
	if !errors.Is(err, ErrUnknownItem) {
		t.Errorf("expected ErrUnknownItem for item, got %v", err)
	}
	err = s.ApplyMove(&entity.MoveOperation{ItemID: id("gpu"), To: entity.Address{Kind: entity.AddrSlot, ParentID: id("nope")}})
	if !errors.Is(err, ErrUnknownItem) {
		t.Errorf("expected ErrUnknownItem for parent, got %v", err)
	}
}

func TestApplyMoveToOwner(t *testing.T) {
	s := newState(LootRules{Threshold: 100000})
	p := spawnPlayer(s, 2, false)
	p.Position = protocol.Vector3{X: 7, Y: 1, Z: 3}
	count := s.Items().Len()

	// Drop the gpu on the ground: a new loose crate appears.
	err := s.ApplyMove(&entity.MoveOperation{
		ItemID: id("gpu"),
		To:     entity.Address{Kind: entity.AddrOwner, OwnerID: "ground-1"},
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	c, ok := s.Loot.Get("ground-1")
	if !ok || c.RootID != id("gpu") || c.Position != p.Position {
		t.Fatalf("expected new crate at the player position, got %+v", c)
	}
	if !s.Loot.IsVisible("ground-1") {
		t.Errorf("expected dropped gpu visible")
	}
	if p.LootPrice != 51000 {
		t.Errorf("expected player price 51000 after drop, got %d", p.LootPrice)
	}

	// Pick it back up into the player's inventory root.
	err = s.ApplyMove(&entity.MoveOperation{
		ItemID: id("gpu"),
		To:     entity.Address{Kind: entity.AddrOwner, OwnerID: p.OwnerID()},
	})
	if err != nil {
		t.Fatalf("move back: %v", err)
	}
	if _, ok := s.Loot.Get("ground-1"); ok {
		t.Errorf("expected crate dropped after its root was picked up")
	}
	if p.LootPrice != 301000 {
		t.Errorf("expected player price 301000, got %d", p.LootPrice)
	}
	if s.Items().Len() != count {
		t.Errorf("expected %d items, got %d", count, s.Items().Len())
	}
}

func TestApplyMovePlayerInventoryAway(t *testing.T) {
	tests := []struct {
		name  string
		to    entity.Address
		crate string
		price int64
	}{
		// nested one level down, the secured container is priced too
		{"into a crate", entity.Address{Kind: entity.AddrGrid, ParentID: id("box"), ContainerID: "main"}, "b", 891000},
		{"to a new owner", entity.Address{Kind: entity.AddrOwner, OwnerID: "ground-2"}, "ground-2", 301000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState(LootRules{})
			p := spawnPlayer(s, 4, false)
			s.Loot.Add(loot("b", item("box", "t-box")))
			count := s.Items().Len()

			if err := s.ApplyMove(&entity.MoveOperation{ItemID: id("eq"), To: tt.to}); err != nil {
				t.Fatalf("move: %v", err)
			}
			if p.InventoryRoot != "" || p.LootPrice != 0 {
				t.Errorf("expected inventory detached from player, got root %q price %d", p.InventoryRoot, p.LootPrice)
			}
			c, ok := s.Loot.Get(tt.crate)
			if !ok || c.Price != tt.price {
				t.Fatalf("expected crate %s worth %d, got %+v", tt.crate, tt.price, c)
			}
			if _, err := s.RemovePlayer(4); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if s.Items().Len() != count {
				t.Errorf("expected crate items kept after player removal, got %d of %d", s.Items().Len(), count)
			}
		})
	}
}

func TestApplySplit(t *testing.T) {
	s := newState(LootRules{})
	bolts := item("bolts", "t-bolt")
	bolts.StackCount = 10
	s.Loot.Add(loot("a", bolts))

	op := &entity.SplitOperation{ItemID: bolts.ID, Count: 3}
	if err := s.ApplySplit(op); err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(s.Splits) != 1 {
		t.Errorf("expected split recorded")
	}
	n, _ := s.Items().Get(bolts.ID)
	if n.StackCount != 10 {
		t.Errorf("expected stack untouched, got %d", n.StackCount)
	}
	if err := s.ApplySplit(&entity.SplitOperation{ItemID: bolts.ID, Count: 10}); !errors.Is(err, ErrBadSplit) {
		t.Errorf("expected ErrBadSplit, got %v", err)
	}
}

func TestGeometry(t *testing.T) {
	me := protocol.Vector3{}
	if d := Distance(me, protocol.Vector3{X: 3, Y: 4}); d != 5 {
		t.Errorf("expected 5, got %v", d)
	}
	if v := VerticalDistance(protocol.Vector3{Y: 2}, protocol.Vector3{Y: -1}); v != -3 {
		t.Errorf("expected -3, got %v", v)
	}
	tests := []struct {
		target protocol.Vector3
		yaw    float64
		want   int
	}{
		{protocol.Vector3{Z: 10}, 0, 0},
		{protocol.Vector3{X: 10}, 0, 90},
		{protocol.Vector3{X: -10}, 0, -90},
		{protocol.Vector3{X: 10}, 90, 0},
		{protocol.Vector3{Z: 10}, 200, 160},
		{me, 0, 0},
	}
	for _, tt := range tests {
		if got := Angle(me, tt.target, tt.yaw); got != tt.want {
			t.Errorf("Angle(%v, yaw %v): expected %d, got %d", tt.target, tt.yaw, tt.want, got)
		}
	}
}

func TestQuaternionToEuler(t *testing.T) {
	e := QuaternionToEuler(protocol.Quaternion{W: 1})
	if e != (protocol.Vector3{}) {
		t.Errorf("expected zero rotation, got %v", e)
	}
	// 90 degrees around z.
	h := math.Sqrt2 / 2
	e = QuaternionToEuler(protocol.Quaternion{Z: h, W: h})
	if math.Abs(e.X-90) > 1e-9 || math.Abs(e.Y) > 1e-9 || math.Abs(e.Z) > 1e-9 {
		t.Errorf("expected yaw 90, got %v", e)
	}
}

func TestMapBounds(t *testing.T) {
	b := MapBounds{Min: protocol.Vector3{X: -100, Y: -10, Z: -100}, Max: protocol.Vector3{X: 100, Y: 50, Z: 100}}
	if !b.Contains(protocol.Vector3{X: 100, Y: 0}) {
		t.Errorf("expected border inside")
	}
	if err := b.Check(protocol.Vector3{Y: 60}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	qs, err := b.Quantizers()
	if err != nil {
		t.Fatalf("quantizers: %v", err)
	}
	if qs[0].Min != -100 || qs[1].Resolution != protocol.QHigh {
		t.Errorf("unexpected quantizers %+v", qs)
	}
}
