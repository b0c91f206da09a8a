package server

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"linechat/internal/store"
)

func TestDeliveryQueueDeliversInOrder(t *testing.T) {
	q := newDeliveryQueue(1000, zerolog.Nop())
	dst := &mockSender{}

	bodies := []string{"one", "two", "three"}
	for _, b := range bodies {
		q.enqueue(store.NewMessage("alice", store.DefaultScope(), b), dst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.run(ctx)
	}()

	waitFor(t, func() bool { return len(dst.frames()) == 3 })
	cancel()
	<-done

	for i, f := range dst.frames() {
		msg := decodeMessage(t, f)
		if msg.Message != bodies[i] {
			t.Errorf("frame %d: got body %q, want %q", i, msg.Message, bodies[i])
		}
	}
}

func TestDeliveryQueueDropsWhenSaturated(t *testing.T) {
	q := newDeliveryQueue(1000, zerolog.Nop())
	dst := &mockSender{}
	m := store.NewMessage("alice", store.DefaultScope(), "x")

	// One more than the buffer holds; the surplus item must be dropped
	// without blocking.
	for i := 0; i < cap(q.items)+1; i++ {
		q.enqueue(m, dst)
	}
	if len(q.items) != cap(q.items) {
		t.Fatalf("queue should sit at capacity, got %d", len(q.items))
	}
}

func TestDeliveryQueueSkipsDeadConnections(t *testing.T) {
	q := newDeliveryQueue(1000, zerolog.Nop())
	dead := &mockSender{err: errSessionClosed}
	live := &mockSender{}

	q.enqueue(store.NewMessage("alice", store.DefaultScope(), "lost"), dead)
	q.enqueue(store.NewMessage("alice", store.DefaultScope(), "kept"), live)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.run(ctx)
	}()

	waitFor(t, func() bool { return len(live.frames()) == 1 })
	cancel()
	<-done

	if msg := decodeMessage(t, live.frames()[0]); msg.Message != "kept" {
		t.Errorf("unexpected body %q", msg.Message)
	}
	if len(dead.frames()) != 0 {
		t.Errorf("dead connection should receive nothing")
	}
}
