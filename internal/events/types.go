// Package events defines the event types published on the raidscope event
// bus: session lifecycle, player and loot changes, and system signals.
package events

import "time"

// EventType represents the type of event emitted through the Bus.
type EventType string

const (
	// Session lifecycle events
	EventSessionStarted EventType = "session_started"
	EventMapLoaded      EventType = "map_loaded"

	// World events
	EventPlayerSpawned EventType = "player_spawned"
	EventPlayerDied    EventType = "player_died"
	EventPlayerLeft    EventType = "player_left"
	EventLootSpawned   EventType = "loot_spawned"
	EventValuableLoot  EventType = "valuable_loot"
	EventItemMoved     EventType = "item_moved"

	// Presentation events
	EventSnapshot EventType = "snapshot"

	// System events
	EventReplayFinished EventType = "replay_finished"
	EventConfigChanged  EventType = "config_changed"
	EventHealth         EventType = "health"
	EventShutdown       EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// SessionPayload is emitted when an init control packet starts a session.
type SessionPayload struct {
	SessionID uint16 `json:"session_id"`
	UUID      string `json:"uuid"`
}

// MapPayload carries the bounds of the map announced by server init.
type MapPayload struct {
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

// PlayerPayload describes a spawned or departed player.
type PlayerPayload struct {
	Channel   uint8  `json:"channel"`
	Nickname  string `json:"nickname"`
	Side      string `json:"side"`
	Level     int    `json:"level"`
	NPC       bool   `json:"npc"`
	Me        bool   `json:"me"`
	LootPrice int64  `json:"loot_price"`
}

// DeathPayload is the death record of a player update.
type DeathPayload struct {
	Channel  uint8  `json:"channel"`
	Nickname string `json:"nickname"`
	Status   string `json:"status"`
	Killer   string `json:"killer"`
	Weapon   string `json:"weapon"`
}

// LootPayload describes a crate.
type LootPayload struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Price  int64   `json:"price"`
	Wanted bool    `json:"wanted"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// LootSpawnedPayload summarizes one world spawn message.
type LootSpawnedPayload struct {
	Crates int `json:"crates"`
	Items  int `json:"items"`
}

// MovePayload describes an applied move operation.
type MovePayload struct {
	ItemID string `json:"item_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ReplayFinishedPayload is emitted when a replay source is drained.
type ReplayFinishedPayload struct {
	Packets int           `json:"packets"`
	Elapsed time.Duration `json:"elapsed"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
