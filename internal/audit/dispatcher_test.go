package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherForwardsToSink(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: EventLoginSuccess, UserID: 7, Success: true})

	select {
	case ev := <-sink.Events():
		if ev.EventType != EventLoginSuccess || ev.UserID != 7 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event never reached the sink")
	}
}

func TestDisabledDispatcherIsNoOp(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NewChannelSink(1))
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}

	d.Emit(context.Background(), Event{EventType: EventLogout}) // must not panic
	d.Close()
	if got := d.Dropped(); got != 0 {
		t.Fatalf("Dropped on nil dispatcher = %d, want 0", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := sinkFunc(func(context.Context, Event) { <-block })

	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 6; i++ {
		d.Emit(context.Background(), Event{EventType: EventLoginFailure})
	}

	deadline := time.Now().Add(time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events under backpressure")
	}
	close(block)
	d.Close()
}

func TestCloseDrainsBuffer(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, NewJSONWriterSink(&buf))

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: EventFactorSuccess, UserID: int64(i)})
	}
	d.Close()
	d.Close() // idempotent

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 audit lines after drain, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if ev.EventType != EventFactorSuccess {
		t.Fatalf("unexpected event type %q", ev.EventType)
	}
}

type sinkFunc func(context.Context, Event)

func (f sinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }
