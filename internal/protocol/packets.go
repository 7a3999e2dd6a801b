// Package protocol implements the low level codecs for the game session
// wire format: the bit-packed reader used for update payloads, the
// byte-aligned reader used for spawn blobs and item trees, the float
// quantizer shared by both, and the framing constants of the UDP transport.
// Connection and packet ids are big-endian; everything inside a message
// body is little-endian.
package protocol

// Control opcodes carried in byte 2 of a connection-0 packet.
const (
	CtrlInit       byte = 0x01 // Session start, session id at [5:7]
	CtrlPlayerExit byte = 0x03 // Player left, ignored
	CtrlHeartbeat  byte = 0x04 // Keepalive, session id at [25:27]
)

// Channel sentinels seen at the start of a message header.
const (
	ChanDelimiter byte = 255 // Frame with nested messages
	ChanCombined  byte = 254 // Multiplexer marker, no payload
	ChanMax       byte = 207 // Highest ordinary channel id
)

// Framing sizes.
const (
	MinPacketSize       = 3
	HeartbeatPacketSize = 27
	DataHeaderSize      = 6      // connection id, packet id, session id
	AckBlockSize        = 2 + 4*4 // not interpreted
	OrderIDSize         = 2
	MessageIDSize       = 2
	FragmentHeaderSize  = 3 // fragment id, index, total
	MessageHeaderSize   = 4 // op type + length
)

// StaleFragmentDistance is how far a fragment group id may trail the newest
// id of its channel before the group is evicted.
const StaleFragmentDistance = 4

// IsFragmentChannel reports whether ch carries fragments of larger messages.
func IsFragmentChannel(ch byte) bool {
	return ch <= 2
}

// Quantization resolutions used by position and rotation updates.
const (
	QLow      = 0.001953125
	QHigh     = 0.0009765625
	QRotation = 0.015625
)

// Opcode identifies the payload of a logical message.
type Opcode uint16

const (
	OpServerInit      Opcode = 147
	OpWorldSpawn      Opcode = 151
	OpWorldUnspawn    Opcode = 152
	OpSubworldSpawn   Opcode = 153
	OpSubworldUnspawn Opcode = 154
	OpPlayerSpawn     Opcode = 155
	OpPlayerUnspawn   Opcode = 156
	OpObserverSpawn   Opcode = 157
	OpObserverUnspawn Opcode = 158
	OpAntiCheat       Opcode = 168
	OpGameUpdate      Opcode = 170
)

var opcodeStrings = map[Opcode]string{
	OpServerInit:      "server_init",
	OpWorldSpawn:      "world_spawn",
	OpWorldUnspawn:    "world_unspawn",
	OpSubworldSpawn:   "subworld_spawn",
	OpSubworldUnspawn: "subworld_unspawn",
	OpPlayerSpawn:     "player_spawn",
	OpPlayerUnspawn:   "player_unspawn",
	OpObserverSpawn:   "observer_spawn",
	OpObserverUnspawn: "observer_unspawn",
	OpAntiCheat:       "anticheat",
	OpGameUpdate:      "game_update",
}

// String returns the snake_case name of the opcode, or "unknown".
func (o Opcode) String() string {
	if s, ok := opcodeStrings[o]; ok {
		return s
	}
	return "unknown"
}

// Known reports whether the opcode has a handler in the dispatch table.
func (o Opcode) Known() bool {
	_, ok := opcodeStrings[o]
	return ok
}

// Vector3 is a position or euler rotation.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Quaternion is a rotation as sent on the wire.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}
