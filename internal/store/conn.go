package store

import (
	"fmt"
	"sync"
	"time"

	"linechat/internal/protocol"
)

// FrameSender is the write side of one client connection. The server session
// implements it with a buffered channel so a write from any goroutine never
// blocks; tests substitute an in-memory recorder.
type FrameSender interface {
	SendFrame(line []byte) error
}

// Conn is the server-side record of one client connection: who they are,
// what they are viewing, and the posting restrictions that apply to them.
//
// Fields are mutated from several goroutines (the owning session, other
// sessions filing complaints, the rate-window ticker), so each record
// carries its own mutex.
type Conn struct {
	sender FrameSender

	mu           sync.Mutex
	name         string // empty until name negotiation completes
	scope        Scope
	sentInWindow int      // posts into the general channel this window
	complainants []string // users who asked to ban this one; duplicates kept
	banUntil     time.Time
}

// NewConn wraps a transport in a fresh record viewing the default channel.
func NewConn(sender FrameSender) *Conn {
	return &Conn{sender: sender, scope: DefaultScope()}
}

// Sender returns the connection's transport handle.
func (c *Conn) Sender() FrameSender { return c.sender }

// Name returns the negotiated user name, or "" while still negotiating.
func (c *Conn) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Scope returns what the connection is currently viewing.
func (c *Conn) Scope() Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

// SetScope moves the connection to a new view.
func (c *Conn) SetScope(s Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scope = s
}

// SentInWindow returns the number of general-channel posts this window.
func (c *Conn) SentInWindow() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentInWindow
}

// MarkSent counts one successful post into the general channel.
func (c *Conn) MarkSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentInWindow++
}

// BanUntil returns when the current ban expires; the zero time means the
// user was never banned.
func (c *Conn) BanUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banUntil
}

// Banned reports whether a ban is live right now.
func (c *Conn) Banned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.banUntil)
}

// RecordComplaint notes that `by` wants this user banned. Complaints are not
// deduplicated, so repeated requests from one user all count. Crossing the
// threshold applies a ban lasting banFor and clears the complaint list.
// Reports whether a ban was applied by this call.
func (c *Conn) RecordComplaint(by string, threshold int, banFor time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.complainants = append(c.complainants, by)
	if len(c.complainants) < threshold {
		return false
	}
	c.banUntil = time.Now().Add(banFor)
	c.complainants = nil
	return true
}

// Complainants returns a copy of the pending complaint list.
func (c *Conn) Complainants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.complainants))
	copy(out, c.complainants)
	return out
}

// CanPost decides whether this user may post right now. A live ban always
// denies; the per-window quota applies only to posts into the general
// channel. The denial reason is sent back to the user verbatim.
func (c *Conn) CanPost(intoGeneral bool, limit int) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.banUntil) {
		return false, fmt.Sprintf("You are banned until `%s` and cannot send messages",
			c.banUntil.Format(time.ANSIC))
	}
	if intoGeneral && c.sentInWindow >= limit {
		return false, fmt.Sprintf("You have reached the limit of %d messages to the general channel, try again later",
			limit)
	}
	return true, ""
}

func (c *Conn) resetWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentInWindow = 0
}

func (c *Conn) setName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// ---------------------------------------------------------------------------
// ConnPool
// ---------------------------------------------------------------------------

// ConnPool is the registry of live connections in arrival order, keyed by
// transport.
type ConnPool struct {
	mu    sync.RWMutex
	conns []*Conn
}

func NewConnPool() *ConnPool {
	return &ConnPool{}
}

// Add registers a connection.
func (p *ConnPool) Add(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = append(p.conns, c)
}

// RemoveBySender drops the connection owned by the given transport.
func (p *ConnPool) RemoveBySender(s FrameSender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.conns {
		if c.sender == s {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

// BySender returns the connection owned by the given transport, or nil.
func (p *ConnPool) BySender(s FrameSender) *Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.conns {
		if c.sender == s {
			return c
		}
	}
	return nil
}

// ByName returns the named connection, or nil. Connections still negotiating
// never match.
func (p *ConnPool) ByName(name string) *Conn {
	if name == "" {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.conns {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// ClaimName sets c's name if no other connection holds it yet, and reports
// whether the claim won. Check and set happen under one lock so two peers
// racing for the same name resolve by arrival order.
func (p *ConnPool) ClaimName(c *Conn, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.conns {
		if o != c && o.Name() == name {
			return false
		}
	}
	c.setName(name)
	return true
}

// Len returns the number of live connections, named or not.
func (p *ConnPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Names returns the user names of all connections that completed name
// negotiation, in arrival order.
func (p *ConnPool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.conns))
	for _, c := range p.conns {
		if name := c.Name(); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Named returns the connections that completed name negotiation, in arrival
// order.
func (p *ConnPool) Named() []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		if c.Name() != "" {
			out = append(out, c)
		}
	}
	return out
}

// ChannelNames returns the distinct channel names currently being viewed,
// ordered by first appearance.
func (p *ConnPool) ChannelNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]bool)
	out := make([]string, 0, 1)
	for _, c := range p.conns {
		sc := c.Scope()
		if sc.Kind == protocol.ChatChannel && !seen[sc.Name] {
			seen[sc.Name] = true
			out = append(out, sc.Name)
		}
	}
	return out
}

// Senders returns every transport handle in arrival order.
func (p *ConnPool) Senders() []FrameSender {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]FrameSender, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c.sender)
	}
	return out
}

// ClearRateWindows zeroes every connection's general-channel post counter.
// Runs on the rate-window ticker.
func (p *ConnPool) ClearRateWindows() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.conns {
		c.resetWindow()
	}
}

// Route writes msg to every connection, other than the creator's, whose
// current scope and user name satisfy the delivery predicate. Returns the
// number of transports written.
func (p *ConnPool) Route(m *Message) int {
	frame, err := m.Wire()
	if err != nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, c := range p.conns {
		name := c.Name()
		if name == m.Creator {
			continue
		}
		if !m.DeliverableTo(c.Scope(), name) {
			continue
		}
		if c.sender.SendFrame(frame) == nil {
			n++
		}
	}
	return n
}
