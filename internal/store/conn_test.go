package store

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"linechat/internal/protocol"
)

// mockSender implements FrameSender for tests.
type mockSender struct {
	mu       sync.Mutex
	received [][]byte
	err      error
}

func (m *mockSender) SendFrame(line []byte) error {
	if m.err != nil {
		return m.err
	}
	cp := make([]byte, len(line))
	copy(cp, line)
	m.mu.Lock()
	m.received = append(m.received, cp)
	m.mu.Unlock()
	return nil
}

func (m *mockSender) frames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.received))
	for i, f := range m.received {
		out[i] = string(f)
	}
	return out
}

func addNamed(p *ConnPool, name string) (*Conn, *mockSender) {
	s := &mockSender{}
	c := NewConn(s)
	p.Add(c)
	p.ClaimName(c, name)
	return c, s
}

func TestClaimNameUniqueness(t *testing.T) {
	p := NewConnPool()
	a := NewConn(&mockSender{})
	b := NewConn(&mockSender{})
	p.Add(a)
	p.Add(b)

	if !p.ClaimName(a, "alice") {
		t.Fatal("first claim must win")
	}
	if p.ClaimName(b, "alice") {
		t.Fatal("second claim of the same name must lose")
	}
	if !p.ClaimName(b, "bob") {
		t.Fatal("a fresh name must be claimable")
	}
}

func TestClaimNameConcurrentRace(t *testing.T) {
	p := NewConnPool()
	const n = 32
	conns := make([]*Conn, n)
	for i := range conns {
		conns[i] = NewConn(&mockSender{})
		p.Add(conns[i])
	}

	var wg sync.WaitGroup
	wins := make(chan *Conn, n)
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if p.ClaimName(c, "alice") {
				wins <- c
			}
		}(c)
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestByNameIgnoresUnnamed(t *testing.T) {
	p := NewConnPool()
	p.Add(NewConn(&mockSender{}))

	if p.ByName("") != nil {
		t.Fatal("empty name must never match")
	}
	if p.ByName("alice") != nil {
		t.Fatal("no one is named alice yet")
	}
	c, _ := addNamed(p, "alice")
	if p.ByName("alice") != c {
		t.Fatal("named lookup failed")
	}
}

func TestNamesSkipNegotiating(t *testing.T) {
	p := NewConnPool()
	addNamed(p, "alice")
	p.Add(NewConn(&mockSender{}))
	addNamed(p, "bob")

	names := p.Names()
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Fatalf("unexpected names %v", names)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 connections total, got %d", p.Len())
	}
}

func TestChannelNamesDistinct(t *testing.T) {
	p := NewConnPool()
	a, _ := addNamed(p, "alice")
	addNamed(p, "bob")
	c, _ := addNamed(p, "carol")

	a.SetScope(Scope{Kind: protocol.ChatChannel, Name: "random"})
	c.SetScope(Scope{Kind: protocol.ChatPrivate, Name: "alice"})

	got := p.ChannelNames()
	if len(got) != 2 || got[0] != "random" || got[1] != protocol.ChannelGeneral {
		t.Fatalf("unexpected channel names %v", got)
	}
}

func TestRemoveBySender(t *testing.T) {
	p := NewConnPool()
	_, sa := addNamed(p, "alice")
	addNamed(p, "bob")

	p.RemoveBySender(sa)
	if p.Len() != 1 {
		t.Fatalf("expected 1 connection left, got %d", p.Len())
	}
	if p.BySender(sa) != nil {
		t.Fatal("removed sender still resolvable")
	}
	if p.ByName("alice") != nil {
		t.Fatal("removed connection still resolvable by name")
	}
}

func TestSendersIncludeNegotiating(t *testing.T) {
	p := NewConnPool()
	_, sa := addNamed(p, "alice")
	unnamed := &mockSender{}
	p.Add(NewConn(unnamed))

	got := p.Senders()
	if len(got) != 2 || got[0] != sa || got[1] != unnamed {
		t.Fatalf("expected both transports in arrival order, got %d", len(got))
	}
}

func TestRecordComplaintThreshold(t *testing.T) {
	c := NewConn(&mockSender{})

	if c.RecordComplaint("homer", 3, 4*time.Hour) {
		t.Fatal("one complaint must not ban")
	}
	if c.RecordComplaint("marge", 3, 4*time.Hour) {
		t.Fatal("two complaints must not ban")
	}
	before := time.Now()
	if !c.RecordComplaint("lisa", 3, 4*time.Hour) {
		t.Fatal("third complaint must ban")
	}

	until := c.BanUntil()
	if until.Before(before.Add(4*time.Hour)) || until.After(time.Now().Add(4*time.Hour)) {
		t.Fatalf("ban deadline off: %v", until)
	}
	if len(c.Complainants()) != 0 {
		t.Fatal("complaint list must reset when the ban lands")
	}
	if !c.Banned() {
		t.Fatal("ban must be live")
	}
}

func TestRecordComplaintCountsDuplicates(t *testing.T) {
	c := NewConn(&mockSender{})
	c.RecordComplaint("homer", 3, time.Hour)
	c.RecordComplaint("homer", 3, time.Hour)
	if !c.RecordComplaint("homer", 3, time.Hour) {
		t.Fatal("repeated complaints from one user must reach the threshold")
	}
}

func TestCanPost(t *testing.T) {
	c := NewConn(&mockSender{})

	if ok, _ := c.CanPost(true, 2); !ok {
		t.Fatal("a fresh connection must be allowed to post")
	}
	c.MarkSent()
	c.MarkSent()

	ok, reason := c.CanPost(true, 2)
	if ok {
		t.Fatal("the quota must deny general-channel posts")
	}
	if !strings.Contains(reason, "limit") {
		t.Fatalf("denial reason should mention the limit: %q", reason)
	}
	if ok, _ := c.CanPost(false, 2); !ok {
		t.Fatal("the quota must not apply outside the general channel")
	}

	c.resetWindow()
	if ok, _ := c.CanPost(true, 2); !ok {
		t.Fatal("posting must be allowed again after the window reset")
	}
	if c.SentInWindow() != 0 {
		t.Fatalf("window counter should be zero, got %d", c.SentInWindow())
	}
}

func TestCanPostDeniedWhileBanned(t *testing.T) {
	c := NewConn(&mockSender{})
	for _, by := range []string{"a", "b", "c"} {
		c.RecordComplaint(by, 3, time.Hour)
	}

	ok, reason := c.CanPost(false, 20)
	if ok {
		t.Fatal("a banned user must not post anywhere")
	}
	if !strings.Contains(reason, "banned until") {
		t.Fatalf("denial reason should carry the deadline: %q", reason)
	}
}

func TestClearRateWindows(t *testing.T) {
	p := NewConnPool()
	a, _ := addNamed(p, "alice")
	b, _ := addNamed(p, "bob")
	a.MarkSent()
	a.MarkSent()
	b.MarkSent()

	p.ClearRateWindows()
	if a.SentInWindow() != 0 || b.SentInWindow() != 0 {
		t.Fatal("window counters must reset for every connection")
	}
}

func TestRouteChannelMessage(t *testing.T) {
	p := NewConnPool()
	_, sa := addNamed(p, "alice")
	_, sb := addNamed(p, "bob")
	c, sc := addNamed(p, "carol")
	c.SetScope(Scope{Kind: protocol.ChatPrivate, Name: "bob"})

	m := NewMessage("alice", generalScope(), "hello")
	if n := p.Route(m); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(sa.frames()) != 0 {
		t.Fatal("creator must not receive their own message")
	}
	if len(sc.frames()) != 0 {
		t.Fatal("a user in a private view must not receive channel traffic")
	}
	got := sb.frames()
	if len(got) != 1 || !strings.HasPrefix(got[0], "message_from_srv ") {
		t.Fatalf("unexpected delivery %v", got)
	}
}

func TestRoutePrivateMessage(t *testing.T) {
	p := NewConnPool()
	a, sa := addNamed(p, "alice")
	b, sb := addNamed(p, "bob")
	_, sc := addNamed(p, "carol")
	a.SetScope(Scope{Kind: protocol.ChatPrivate, Name: "bob"})
	b.SetScope(Scope{Kind: protocol.ChatPrivate, Name: "alice"})

	m := NewMessage("alice", privateScope("bob"), "psst")
	if n := p.Route(m); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(sb.frames()) != 1 {
		t.Fatal("the addressee in a private view must receive the message")
	}
	if len(sa.frames()) != 0 || len(sc.frames()) != 0 {
		t.Fatal("no one else may receive a private message")
	}
}

func TestRoutePrivateSkipsAddresseeOnChannel(t *testing.T) {
	p := NewConnPool()
	a, _ := addNamed(p, "alice")
	_, sb := addNamed(p, "bob")
	a.SetScope(Scope{Kind: protocol.ChatPrivate, Name: "bob"})

	m := NewMessage("alice", privateScope("bob"), "psst")
	if n := p.Route(m); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
	if len(sb.frames()) != 0 {
		t.Fatal("addressee still on a channel must not receive live private traffic")
	}
}

func TestRouteCountsOnlySuccessfulWrites(t *testing.T) {
	p := NewConnPool()
	addNamed(p, "alice")
	stuck := &mockSender{err: errors.New("send failed")}
	c := NewConn(stuck)
	p.Add(c)
	p.ClaimName(c, "bob")

	m := NewMessage("alice", generalScope(), "hello")
	if n := p.Route(m); n != 0 {
		t.Fatalf("failed write must not be counted, got %d", n)
	}
}
