// Package capture produces the ordered packet stream the engine decodes:
// replay files, a TZSP mirror listener and an external capture process. It
// also writes the live packet log and archives rotated logs.
package capture

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/raidscope/raidscope/internal/transport"
)

// DefaultQueueSize is the packet queue capacity when none is configured.
const DefaultQueueSize = 4096

// Source feeds packets into a queue. Run returns when the source is
// exhausted or ctx is done; it never closes the queue.
type Source interface {
	Name() string
	Run(ctx context.Context, q *Queue) error
}

// Queue is the bounded channel between one producer and the consumer loop.
type Queue struct {
	ch     chan transport.Packet
	once   sync.Once
	pushed atomic.Uint64
}

// NewQueue creates a queue holding up to size packets.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan transport.Packet, size)}
}

// Push blocks until the packet is queued or ctx is done.
func (q *Queue) Push(ctx context.Context, pkt transport.Packet) error {
	select {
	case q.ch <- pkt:
		q.pushed.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Packets is the receive side. It is closed by Close.
func (q *Queue) Packets() <-chan transport.Packet { return q.ch }

// Len is the number of queued packets.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }

// Pushed is the number of packets queued so far.
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }

// Close closes the receive side. Only the goroutine that ran the producer
// may call it. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.ch) })
}
