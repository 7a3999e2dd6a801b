package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus is an asynchronous publish-subscribe bus. The decoder publishes world
// changes on it; telemetry and the websocket hub subscribe.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
	emitted  map[EventType]int
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates a new Bus instance.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
		emitted:  make(map[EventType]int),
	}
}

// Subscribe registers a handler for an event type. The name is used for
// logging and Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (b *Bus) Unsubscribe(eventType EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, exists := b.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered
}

// Emit publishes an event to all subscribed handlers. Each handler runs in
// its own goroutine so the decode loop never blocks on a subscriber.
// A nil Bus drops the event.
func (b *Bus) Emit(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.emitted[event.Type]++
	handlers := append([]handlerEntry(nil), b.handlers[event.Type]...)
	b.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h handlerEntry) {
			defer b.wg.Done()
			b.run(ctx, h, event)
		}(h)
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (b *Bus) EmitSync(ctx context.Context, event Event) error {
	if b == nil {
		return nil
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.emitted[event.Type]++
	handlers := append([]handlerEntry(nil), b.handlers[event.Type]...)
	b.mu.Unlock()

	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	for _, h := range handlers {
		wg.Add(1)
		go func(h handlerEntry) {
			defer wg.Done()
			if err := b.run(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(h)
	}

	wg.Wait()
	return firstErr
}

func (b *Bus) run(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop signals the Bus to stop accepting new events and waits for all
// in-flight handlers to complete.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the Bus is stopped.
func (b *Bus) StopCh() <-chan struct{} {
	return b.stopCh
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Emitted returns how many events of a type were published.
func (b *Bus) Emitted(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.emitted[eventType]
}
