package world

import (
	"fmt"
	"strconv"
	"time"

	"github.com/raidscope/raidscope/internal/protocol"
)

// Profile is the part of the spawn profile document the world keeps.
type Profile struct {
	ID            string      `json:"_id"`
	AID           int64       `json:"aid"`
	Info          ProfileInfo `json:"Info"`
	SurvivorClass string      `json:"SurvivorClass"`
}

type ProfileInfo struct {
	Nickname string `json:"Nickname"`
	Side     string `json:"Side"`
	Level    int    `json:"Level"`
	GroupID  string `json:"GroupId"`
}

// Death is what a player update carries when the player died.
type Death struct {
	InventoryHash uint32    `json:"inventory_hash"`
	Time          uint64    `json:"time"`
	Nickname      string    `json:"nickname"`
	Side          uint32    `json:"side"`
	Status        string    `json:"status"`
	Killer        string    `json:"killer"`
	Level         uint32    `json:"level"`
	Weapon        string    `json:"weapon"`
	SeenAt        time.Time `json:"seen_at"`
}

// Player is me or an observed player. Rotation holds euler degrees with X as
// yaw and Y as pitch.
type Player struct {
	ProfileID     uint32           `json:"profile_id"`
	Channel       uint8            `json:"channel"`
	Me            bool             `json:"me"`
	Position      protocol.Vector3 `json:"position"`
	Rotation      protocol.Vector3 `json:"rotation"`
	Alive         bool             `json:"alive"`
	Disconnected  bool             `json:"disconnected"`
	Prone         bool             `json:"prone"`
	Pose          float32          `json:"pose"`
	InventoryRoot string           `json:"inventory_root,omitempty"`
	LootPrice     int64            `json:"loot_price"`
	GroupID       string           `json:"group_id,omitempty"`
	Nickname      string           `json:"nickname"`
	Level         int              `json:"level"`
	Side          string           `json:"side"`
	SurvivorClass string           `json:"survivor_class"`
	NPC           bool             `json:"npc"`
	AccountID     string           `json:"account_id,omitempty"`
	Death         *Death           `json:"death,omitempty"`
	SpawnedAt     time.Time        `json:"spawned_at"`
	GameTime      float32          `json:"game_time"`
}

// ApplyProfile copies the identity fields of a spawn profile.
func (p *Player) ApplyProfile(pr Profile) {
	p.Nickname = pr.Info.Nickname
	p.Level = pr.Info.Level
	p.GroupID = pr.Info.GroupID
	p.SurvivorClass = pr.SurvivorClass
	p.AccountID = pr.ID
	scav := pr.Info.Side == "Savage"
	p.Side = pr.Info.Side
	if scav {
		p.Side = "SCAV"
	}
	p.NPC = scav && p.Level == 1
}

// OwnerID is the id item addresses use for this player's inventory.
func (p *Player) OwnerID() string {
	if p.AccountID != "" {
		return p.AccountID
	}
	return strconv.FormatUint(uint64(p.ProfileID), 10)
}

// Kill marks the player dead and keeps the death record.
func (p *Player) Kill(d Death) {
	p.Alive = false
	if d.SeenAt.IsZero() {
		d.SeenAt = time.Now()
	}
	p.Death = &d
}

// Tags is the short classification shown next to the name.
func (p *Player) Tags() string {
	lvl := strconv.Itoa(p.Level)
	if p.NPC {
		lvl = "BOT"
	}
	class := p.SurvivorClass
	if len(class) > 4 {
		class = class[:4]
	}
	return fmt.Sprintf("%s/%s/%s", lvl, p.Side, class)
}

func (p *Player) String() string {
	return fmt.Sprintf("[%s] %s[%d]", p.Tags(), p.Nickname, p.Channel)
}
