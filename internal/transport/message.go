package transport

import (
	"context"
	"fmt"

	"github.com/raidscope/raidscope/internal/protocol"
)

// Packet is one UDP payload with its direction.
type Packet struct {
	Data     []byte
	Incoming bool
	// Num is assigned by the consumer loop; it is only used in log fields.
	Num int
}

// Message is a logical message extracted from a packet. Payload aliases the
// packet buffer (or the reassembled fragment buffer) and must not be kept
// after the handler returns.
type Message struct {
	Channel    byte
	Op         protocol.Opcode
	Incoming   bool
	Fragmented bool
	PacketNum  int
	Payload    []byte
}

func (m Message) String() string {
	return fmt.Sprintf("<MSG:%d(%s) CH:%d PKT:%d LEN:%d>", uint16(m.Op), m.Op, m.Channel, m.PacketNum, len(m.Payload))
}

// MessageHandler consumes messages synchronously, in wire order.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// SessionListener is notified when an init control packet starts a new
// game session, after transport state was reset.
type SessionListener interface {
	NewSession(ctx context.Context, sessionID uint16)
}

// SessionFunc adapts a function to SessionListener.
type SessionFunc func(ctx context.Context, sessionID uint16)

func (f SessionFunc) NewSession(ctx context.Context, sessionID uint16) {
	f(ctx, sessionID)
}
