package transport

import (
	"fmt"

	"github.com/raidscope/raidscope/internal/protocol"
)

var (
	ErrFragmentMismatch  = fmt.Errorf("fragment mismatch: %w", protocol.ErrProtocolAnomaly)
	ErrBadFragment       = fmt.Errorf("bad fragment header: %w", protocol.ErrProtocolAnomaly)
	ErrUntrustedSession  = fmt.Errorf("untrusted session: %w", protocol.ErrProtocolAnomaly)
	ErrBadControl        = fmt.Errorf("malformed control packet: %w", protocol.ErrProtocolAnomaly)
	ErrTruncatedHeader   = fmt.Errorf("truncated header: %w", protocol.ErrProtocolAnomaly)
	ErrTruncatedMessage  = fmt.Errorf("truncated message: %w", protocol.ErrProtocolAnomaly)
	ErrUnexpectedChannel = fmt.Errorf("unexpected channel: %w", protocol.ErrProtocolAnomaly)
	ErrLeftoverBytes     = fmt.Errorf("leftover bytes: %w", protocol.ErrProtocolAnomaly)
)
