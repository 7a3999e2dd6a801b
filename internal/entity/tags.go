// Package entity decodes the tagged, recursive object graph carried in
// spawn blobs and world updates: items with their slots, grids and stack
// slots, item components, loose loot, corpses and inventory operations.
package entity

import "fmt"

// Tag is the leading type byte of an entity.
type Tag uint8

const (
	TagQuaternion          Tag = 0
	TagTransform           Tag = 1
	TagVector3             Tag = 2
	TagWeightedLootSpawn   Tag = 4
	TagInventoryDescriptor Tag = 5
	TagFastAccess          Tag = 6
	TagSlotDescriptor      Tag = 7
	TagItemInGrid          Tag = 8
	TagGrid                Tag = 9
	TagStackSlot           Tag = 10
	TagItem                Tag = 11
	TagFoodDrink           Tag = 13
	TagResource            Tag = 14
	TagLight               Tag = 15
	TagLockable            Tag = 16
	TagMapComponent        Tag = 17
	TagMedkit              Tag = 18
	TagRepairable          Tag = 19
	TagSight               Tag = 20
	TagTogglable           Tag = 21
	TagFaceShield          Tag = 22
	TagFoldable            Tag = 23
	TagFireMode            Tag = 24
	TagDogtag              Tag = 25
	TagNameTag             Tag = 26
	TagKeyUsages           Tag = 27
	TagJSONLoot            Tag = 28
	TagJSONCorpse          Tag = 29
	TagMoveOperation       Tag = 30
	TagSplitOperation      Tag = 31
	TagResourceKey         Tag = 32
)

var tagNames = map[Tag]string{
	TagQuaternion:          "quaternion",
	TagTransform:           "transform",
	TagVector3:             "vector3",
	TagWeightedLootSpawn:   "weighted_loot_spawn",
	TagInventoryDescriptor: "inventory_descriptor",
	TagFastAccess:          "fast_access",
	TagSlotDescriptor:      "slot_descriptor",
	TagItemInGrid:          "item_in_grid",
	TagGrid:                "grid",
	TagStackSlot:           "stack_slot",
	TagItem:                "item",
	TagFoodDrink:           "food_drink",
	TagResource:            "resource",
	TagLight:               "light",
	TagLockable:            "lockable",
	TagMapComponent:        "map",
	TagMedkit:              "medkit",
	TagRepairable:          "repairable",
	TagSight:               "sight",
	TagTogglable:           "togglable",
	TagFaceShield:          "face_shield",
	TagFoldable:            "foldable",
	TagFireMode:            "fire_mode",
	TagDogtag:              "dogtag",
	TagNameTag:             "tag",
	TagKeyUsages:           "key_usages",
	TagJSONLoot:            "json_loot",
	TagJSONCorpse:          "json_corpse",
	TagMoveOperation:       "move_operation",
	TagSplitOperation:      "split_operation",
	TagResourceKey:         "resource_key",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Known reports whether t has a decoder.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}
