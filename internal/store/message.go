// Package store holds the server's in-memory chat state: the message log and
// the registry of live connections. Both pools are owned by the server
// instance and guarded by mutexes so protocol handlers, the delivery loop,
// and housekeeping tickers can work on them concurrently.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"linechat/internal/protocol"
)

// Scope identifies what a connection is currently viewing: a named channel,
// or one side of a private conversation. The same shape doubles as a message
// destination.
type Scope struct {
	Kind string // protocol.ChatChannel or protocol.ChatPrivate
	Name string // channel name, or a user name for private
}

// DefaultScope is where every connection starts: the general channel.
func DefaultScope() Scope {
	return Scope{Kind: protocol.ChatChannel, Name: protocol.ChannelGeneral}
}

// IsGeneral reports whether s is the default channel.
func (s Scope) IsGeneral() bool {
	return s.Kind == protocol.ChatChannel && s.Name == protocol.ChannelGeneral
}

// Deliverable is the routing predicate shared by server-side fan-out and the
// client's display decision. A channel message reaches every user viewing
// that channel; a private message reaches its addressee while they are in a
// private view.
func Deliverable(dest, view Scope, userName string) bool {
	switch dest.Kind {
	case protocol.ChatChannel:
		return view.Kind == protocol.ChatChannel && view.Name == dest.Name
	case protocol.ChatPrivate:
		return view.Kind == protocol.ChatPrivate && userName == dest.Name
	}
	return false
}

// ---------------------------------------------------------------------------
// Message
// ---------------------------------------------------------------------------

// Message is one chat message. Everything except the delivery record is
// fixed at creation time.
type Message struct {
	ID        string
	CreatedAt time.Time
	Creator   string
	Dest      Scope
	Body      string

	// received lists the users that have acknowledged this message. Appends
	// may repeat a user and the list never shrinks. Guarded by the owning
	// pool's mutex.
	received []string
}

// NewMessage stamps a fresh id and creation time on a message from creator.
func NewMessage(creator string, dest Scope, body string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Creator:   creator,
		Dest:      dest,
		Body:      body,
	}
}

// DeliverableTo reports whether a user viewing the given scope should see
// this message.
func (m *Message) DeliverableTo(view Scope, userName string) bool {
	return Deliverable(m.Dest, view, userName)
}

// Wire renders the message_from_srv frame announcing this message.
func (m *Message) Wire() ([]byte, error) {
	return protocol.FrameJSON(protocol.OpMessageFromSrv, protocol.ServerMessage{
		UUID:            m.ID,
		Creator:         m.Creator,
		DestinationType: m.Dest.Kind,
		DestinationName: m.Dest.Name,
		Message:         m.Body,
	})
}

// receivedBy reports whether user has acknowledged this message. Caller must
// hold the pool lock.
func (m *Message) receivedBy(user string) bool {
	for _, u := range m.received {
		if u == user {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// MessagePool
// ---------------------------------------------------------------------------

// Filter narrows MessagePool.Get. Zero-value fields are ignored, so callers
// set only the criteria they need.
type Filter struct {
	DestKind        string // exact destination type
	DestName        string // exact destination name
	Creator         string // only messages from this user
	NotFromCreator  string // exclude messages from this user
	NotReceivedUser string // exclude messages already acknowledged by this user
}

// MessagePool is the append-only log of chat messages, ordered by insertion.
// A sync.RWMutex lets queries run concurrently while appends, ack updates,
// and the retention sweep are serialised.
type MessagePool struct {
	mu   sync.RWMutex
	msgs []*Message
}

func NewMessagePool() *MessagePool {
	return &MessagePool{}
}

// Add appends m to the log.
func (p *MessagePool) Add(m *Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
}

// Len returns the number of stored messages.
func (p *MessagePool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.msgs)
}

// ByID returns the message with the given id, or nil. Linear scan; the pool
// stays small enough that an index is not worth carrying.
func (p *MessagePool) ByID(id string) *Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.msgs {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Get returns, in insertion order, every message created before now that
// matches all set filter fields. The scan is one consistent snapshot under
// the read lock.
func (p *MessagePool) Get(f Filter) []*Message {
	now := time.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Message
	for _, m := range p.msgs {
		if !m.CreatedAt.Before(now) {
			continue
		}
		if f.DestKind != "" && m.Dest.Kind != f.DestKind {
			continue
		}
		if f.DestName != "" && m.Dest.Name != f.DestName {
			continue
		}
		if f.Creator != "" && m.Creator != f.Creator {
			continue
		}
		if f.NotFromCreator != "" && m.Creator == f.NotFromCreator {
			continue
		}
		if f.NotReceivedUser != "" && m.receivedBy(f.NotReceivedUser) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// All returns every stored message in insertion order.
func (p *MessagePool) All() []*Message {
	return p.Get(Filter{})
}

// MarkReceived appends user to the message's delivery record. Duplicate
// acknowledgements are kept as-is. Reports whether the message was found.
func (p *MessagePool) MarkReceived(id, user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.msgs {
		if m.ID == id {
			m.received = append(m.received, user)
			return true
		}
	}
	return false
}

// ReceivedUsers returns a copy of the delivery record for the message with
// the given id.
func (p *MessagePool) ReceivedUsers(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.msgs {
		if m.ID == id {
			out := make([]string, len(m.received))
			copy(out, m.received)
			return out
		}
	}
	return nil
}

// ReapDelivered removes every message that is older than the retention
// window and has been acknowledged by at least one user. Returns the number
// removed. The sweep is atomic: a query never observes a partial removal.
func (p *MessagePool) ReapDelivered(retention time.Duration) int {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.msgs[:0]
	removed := 0
	for _, m := range p.msgs {
		if m.CreatedAt.Add(retention).Before(now) && len(m.received) > 0 {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(p.msgs); i++ {
		p.msgs[i] = nil
	}
	p.msgs = kept
	return removed
}
