package entity

import (
	"fmt"

	"github.com/raidscope/raidscope/internal/protocol"
)

// IDLen is the length of item and template ids.
const IDLen = 24

var (
	ErrBadID            = fmt.Errorf("bad id: %w", protocol.ErrProtocolAnomaly)
	ErrBadAddress       = fmt.Errorf("bad item address: %w", protocol.ErrProtocolAnomaly)
	ErrUnknownComponent = fmt.Errorf("unknown nested entity: %w", protocol.ErrProtocolAnomaly)
	ErrTooDeep          = fmt.Errorf("entity nesting too deep: %w", protocol.ErrProtocolAnomaly)
	ErrOutOfRange       = fmt.Errorf("field out of range: %w", protocol.ErrProtocolAnomaly)
)

// Entity is one decoded variant. The concrete type is selected by Tag.
type Entity interface {
	Tag() Tag
}

// Unknown stands in for a tag without a decoder. Only the tag byte was
// consumed.
type Unknown struct {
	Code Tag
}

func (u Unknown) Tag() Tag { return u.Code }

type Quaternion struct{ protocol.Quaternion }

func (Quaternion) Tag() Tag { return TagQuaternion }

type Vector3 struct{ protocol.Vector3 }

func (Vector3) Tag() Tag { return TagVector3 }

type Transform struct {
	Position protocol.Vector3    `json:"position"`
	Rotation protocol.Quaternion `json:"rotation"`
}

func (Transform) Tag() Tag { return TagTransform }

type WeightedLootSpawn struct {
	Name     string           `json:"name"`
	Weight   float32          `json:"weight"`
	Position protocol.Vector3 `json:"position"`
	Rotation protocol.Vector3 `json:"rotation"`
}

func (WeightedLootSpawn) Tag() Tag { return TagWeightedLootSpawn }

// InventoryDescriptor is the full inventory of a player. Optional trees
// are nil when absent.
type InventoryDescriptor struct {
	Equipment       *Item      `json:"equipment"`
	Stash           *Item      `json:"stash,omitempty"`
	QuestRaidItems  *Item      `json:"quest_raid_items,omitempty"`
	QuestStashItems *Item      `json:"quest_stash_items,omitempty"`
	FastAccess      FastAccess `json:"fast_access"`
}

func (InventoryDescriptor) Tag() Tag { return TagInventoryDescriptor }

// FastAccess maps quick slot numbers to item ids.
type FastAccess struct {
	Items map[uint32]string `json:"items"`
}

func (FastAccess) Tag() Tag { return TagFastAccess }

type FoodDrink struct {
	HP float32 `json:"hp"`
}

func (FoodDrink) Tag() Tag { return TagFoodDrink }

type Resource struct {
	Value float32 `json:"value"`
}

func (Resource) Tag() Tag { return TagResource }

type Light struct {
	Active bool   `json:"active"`
	Mode   uint32 `json:"mode"`
}

func (Light) Tag() Tag { return TagLight }

type Lockable struct {
	Locked bool `json:"locked"`
}

func (Lockable) Tag() Tag { return TagLockable }

type MapMarker struct {
	Type uint32 `json:"type"`
	X    uint32 `json:"x"`
	Y    uint32 `json:"y"`
	Note string `json:"note"`
}

type MapComponent struct {
	Markers []MapMarker `json:"markers"`
}

func (MapComponent) Tag() Tag { return TagMapComponent }

type Medkit struct {
	HP float32 `json:"hp"`
}

func (Medkit) Tag() Tag { return TagMedkit }

type Repairable struct {
	Durability    float32 `json:"durability"`
	MaxDurability float32 `json:"max_durability"`
}

func (Repairable) Tag() Tag { return TagRepairable }

type Sight struct {
	SelectedScope uint32   `json:"selected_scope"`
	Modes         []uint32 `json:"modes"`
	Calibrations  []uint32 `json:"calibrations"`
}

func (Sight) Tag() Tag { return TagSight }

type Togglable struct {
	On bool `json:"on"`
}

func (Togglable) Tag() Tag { return TagTogglable }

type FaceShield struct {
	Hits     uint8 `json:"hits"`
	HitsSeed uint8 `json:"hits_seed"`
}

func (FaceShield) Tag() Tag { return TagFaceShield }

type Foldable struct {
	Folded bool `json:"folded"`
}

func (Foldable) Tag() Tag { return TagFoldable }

type FireMode struct {
	Mode uint32 `json:"mode"`
}

func (FireMode) Tag() Tag { return TagFireMode }

type Dogtag struct {
	Nickname string  `json:"nickname"`
	Side     uint32  `json:"side"`
	Level    uint32  `json:"level"`
	Time     float64 `json:"time"`
	Status   string  `json:"status"`
	Killer   string  `json:"killer"`
	Weapon   string  `json:"weapon"`
}

func (Dogtag) Tag() Tag { return TagDogtag }

// NameTag is the player-written label of a container.
type NameTag struct {
	Name  string `json:"name"`
	Color uint32 `json:"color"`
}

func (NameTag) Tag() Tag { return TagNameTag }

type KeyUsages struct {
	Uses uint32 `json:"uses"`
}

func (KeyUsages) Tag() Tag { return TagKeyUsages }

type ResourceKey struct {
	Path string `json:"path,omitempty"`
	RCID string `json:"rcid,omitempty"`
}

func (ResourceKey) Tag() Tag { return TagResourceKey }
