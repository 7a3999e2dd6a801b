package entity

import "github.com/raidscope/raidscope/internal/protocol"

// JSONLoot is a loose item lying in the world.
type JSONLoot struct {
	ID             string           `json:"id,omitempty"`
	Position       protocol.Vector3 `json:"position"`
	Rotation       protocol.Vector3 `json:"rotation"`
	Item           *Item            `json:"item"`
	Profiles       []string         `json:"profiles,omitempty"`
	IsStatic       bool             `json:"is_static"`
	UseGravity     bool             `json:"use_gravity"`
	RandomRotation bool             `json:"random_rotation"`
	Shift          protocol.Vector3 `json:"shift"`
	PlatformID     uint16           `json:"platform_id"`
}

func (*JSONLoot) Tag() Tag { return TagJSONLoot }

// JSONCorpse is a dead body with its equipment as the loot item.
type JSONCorpse struct {
	Customization map[uint32]string `json:"customization"`
	Side          uint32            `json:"side"`
	Bones         []Transform       `json:"-"`
	JSONLoot
}

func (*JSONCorpse) Tag() Tag { return TagJSONCorpse }

// Lootable is implemented by world entities that become crates.
type Lootable interface {
	Entity
	Loot() *JSONLoot
}

func (l *JSONLoot) Loot() *JSONLoot   { return l }
func (c *JSONCorpse) Loot() *JSONLoot { return &c.JSONLoot }
