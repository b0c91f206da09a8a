package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"linechat/internal/protocol"
)

func generalScope() Scope {
	return Scope{Kind: protocol.ChatChannel, Name: protocol.ChannelGeneral}
}

func privateScope(name string) Scope {
	return Scope{Kind: protocol.ChatPrivate, Name: name}
}

func TestNewMessageIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		m := NewMessage("alice", generalScope(), "hi")
		if seen[m.ID] {
			t.Fatalf("duplicate message id %q", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestDeliverableChannel(t *testing.T) {
	dest := generalScope()

	if !Deliverable(dest, generalScope(), "bart") {
		t.Fatal("viewer on the same channel must match")
	}
	if Deliverable(dest, Scope{Kind: protocol.ChatChannel, Name: "not_general"}, "bart") {
		t.Fatal("viewer on another channel must not match")
	}
	if Deliverable(dest, privateScope("alice"), "bart") {
		t.Fatal("viewer in a private conversation must not match a channel message")
	}
}

func TestDeliverablePrivate(t *testing.T) {
	dest := privateScope("bart")

	if !Deliverable(dest, privateScope("alice"), "bart") {
		t.Fatal("addressee in a private view must match")
	}
	if Deliverable(dest, privateScope("alice"), "homer") {
		t.Fatal("a different user must not match")
	}
	if Deliverable(dest, generalScope(), "bart") {
		t.Fatal("addressee still on a channel must not match")
	}
}

func TestPoolGetHonorsFilters(t *testing.T) {
	p := NewMessagePool()
	m1 := NewMessage("alice", generalScope(), "one")
	m2 := NewMessage("bob", generalScope(), "two")
	m3 := NewMessage("alice", privateScope("bob"), "three")
	for _, m := range []*Message{m1, m2, m3} {
		p.Add(m)
	}

	got := p.Get(Filter{DestKind: protocol.ChatChannel, DestName: protocol.ChannelGeneral})
	if len(got) != 2 || got[0] != m1 || got[1] != m2 {
		t.Fatalf("channel filter returned wrong set: %d items", len(got))
	}

	got = p.Get(Filter{Creator: "alice"})
	if len(got) != 2 || got[0] != m1 || got[1] != m3 {
		t.Fatalf("creator filter returned wrong set: %d items", len(got))
	}

	got = p.Get(Filter{NotFromCreator: "alice"})
	if len(got) != 1 || got[0] != m2 {
		t.Fatalf("not-from-creator filter returned wrong set: %d items", len(got))
	}

	p.MarkReceived(m1.ID, "carol")
	got = p.Get(Filter{NotReceivedUser: "carol"})
	if len(got) != 2 || got[0] != m2 || got[1] != m3 {
		t.Fatalf("not-received filter returned wrong set: %d items", len(got))
	}
}

func TestPoolGetPreservesInsertionOrder(t *testing.T) {
	p := NewMessagePool()
	var ids []string
	for i := 0; i < 10; i++ {
		m := NewMessage("alice", generalScope(), "n")
		p.Add(m)
		ids = append(ids, m.ID)
	}
	got := p.All()
	if len(got) != len(ids) {
		t.Fatalf("expected %d messages, got %d", len(ids), len(got))
	}
	for i, m := range got {
		if m.ID != ids[i] {
			t.Fatalf("order broken at %d", i)
		}
	}
}

func TestMarkReceivedKeepsDuplicates(t *testing.T) {
	p := NewMessagePool()
	m := NewMessage("alice", generalScope(), "hi")
	p.Add(m)

	if !p.MarkReceived(m.ID, "bob") {
		t.Fatal("expected ack to land")
	}
	p.MarkReceived(m.ID, "bob")
	p.MarkReceived(m.ID, "carol")

	got := p.ReceivedUsers(m.ID)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries including the duplicate, got %v", got)
	}
	if got[0] != "bob" || got[1] != "bob" || got[2] != "carol" {
		t.Fatalf("unexpected delivery record %v", got)
	}

	if p.MarkReceived("no-such-id", "bob") {
		t.Fatal("ack for an unknown id must report false")
	}
}

func TestReapDelivered(t *testing.T) {
	p := NewMessagePool()

	oldAcked := NewMessage("alice", generalScope(), "old acked")
	oldAcked.CreatedAt = time.Now().Add(-2 * time.Hour)
	oldUnacked := NewMessage("alice", generalScope(), "old unacked")
	oldUnacked.CreatedAt = time.Now().Add(-2 * time.Hour)
	freshAcked := NewMessage("alice", generalScope(), "fresh acked")

	for _, m := range []*Message{oldAcked, oldUnacked, freshAcked} {
		p.Add(m)
	}
	p.MarkReceived(oldAcked.ID, "bob")
	p.MarkReceived(freshAcked.ID, "bob")

	removed := p.ReapDelivered(time.Hour)
	if removed != 1 {
		t.Fatalf("expected 1 reaped message, got %d", removed)
	}
	if p.ByID(oldAcked.ID) != nil {
		t.Fatal("old acknowledged message survived the sweep")
	}
	if p.ByID(oldUnacked.ID) == nil {
		t.Fatal("unacknowledged message must never be reaped")
	}
	if p.ByID(freshAcked.ID) == nil {
		t.Fatal("message inside the retention window must never be reaped")
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 survivors, got %d", p.Len())
	}
}

func TestWireFrameShape(t *testing.T) {
	m := NewMessage("alice", privateScope("bob"), "psst")
	frame, err := m.Wire()
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	line := string(frame)
	if !strings.HasPrefix(line, "message_from_srv ") {
		t.Fatalf("unexpected frame prefix: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatal("frame must be newline terminated")
	}

	var sm protocol.ServerMessage
	payload := strings.TrimSuffix(strings.TrimPrefix(line, "message_from_srv "), "\n")
	if err := json.Unmarshal([]byte(payload), &sm); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if sm.UUID != m.ID || sm.Creator != "alice" || sm.DestinationType != protocol.ChatPrivate ||
		sm.DestinationName != "bob" || sm.Message != "psst" {
		t.Fatalf("payload mismatch: %+v", sm)
	}
}
