package world

import (
	"fmt"

	"github.com/raidscope/raidscope/internal/protocol"
)

var (
	ErrNoMap         = fmt.Errorf("no map bounds: %w", protocol.ErrProtocolAnomaly)
	ErrUnknownPlayer = fmt.Errorf("unknown player: %w", protocol.ErrProtocolAnomaly)
	ErrUnknownItem   = fmt.Errorf("unknown item: %w", protocol.ErrProtocolAnomaly)
	ErrMoveCycle     = fmt.Errorf("move would create a cycle: %w", protocol.ErrProtocolAnomaly)
	ErrBadSplit      = fmt.Errorf("bad split: %w", protocol.ErrProtocolAnomaly)
	ErrOutOfBounds   = fmt.Errorf("position outside map bounds: %w", protocol.ErrProtocolAnomaly)
)
