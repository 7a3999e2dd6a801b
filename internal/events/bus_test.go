package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestEmitSync(t *testing.T) {
	b := NewBus()
	var calls int32
	b.Subscribe(EventPlayerDied, "count", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		if e.Time.IsZero() {
			t.Errorf("expected event time to be set")
		}
		return nil
	})
	b.Subscribe(EventPlayerDied, "fail", func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	b.Subscribe(EventPlayerDied, "panic", func(ctx context.Context, e Event) error {
		panic("handler bug")
	})

	err := b.EmitSync(context.Background(), Event{Type: EventPlayerDied, Payload: DeathPayload{Nickname: "x"}})
	if err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.Emitted(EventPlayerDied) != 1 {
		t.Errorf("expected 1 emitted event, got %d", b.Emitted(EventPlayerDied))
	}
}

func TestEmitAndStop(t *testing.T) {
	b := NewBus()
	done := make(chan struct{}, 1)
	b.Subscribe(EventSessionStarted, "ws", func(ctx context.Context, e Event) error {
		done <- struct{}{}
		return nil
	})
	b.Emit(context.Background(), Event{Type: EventSessionStarted})
	<-done

	b.Unsubscribe(EventSessionStarted, "ws")
	if b.HandlerCount(EventSessionStarted) != 0 {
		t.Errorf("expected no handlers after unsubscribe")
	}

	b.Stop()
	b.Stop()
	b.Emit(context.Background(), Event{Type: EventSessionStarted})
	if b.Emitted(EventSessionStarted) != 1 {
		t.Errorf("expected events after stop to be dropped")
	}
	select {
	case <-b.StopCh():
	default:
		t.Errorf("expected stop channel closed")
	}
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Emit(context.Background(), Event{Type: EventShutdown})
	if err := b.EmitSync(context.Background(), Event{Type: EventShutdown}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
