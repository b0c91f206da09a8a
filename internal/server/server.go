// Package server implements the TCP chat server.
//
// Concurrency overview
// --------------------
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Listener goroutine                                      │
//	│  Accepts TCP connections; spawns readLoop + writePump    │
//	│  goroutines for each session.                            │
//	└───────────────────┬─────────────────────────────────────┘
//	                    │  handleLine / SendFrame
//	                    ▼
//	┌─────────────────────────────────────────────────────────┐
//	│  Pools  (sync.RWMutex)                                   │
//	│  In-memory connection registry and message log.          │
//	└─────────────────────────────────────────────────────────┘
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Delivery queue  (1 goroutine)                           │
//	│  Paces history replay so a joining user does not get     │
//	│  the whole backlog in one burst. Live traffic bypasses   │
//	│  the queue and is written straight to the recipients.    │
//	└─────────────────────────────────────────────────────────┘
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Housekeeping  (1 goroutine)                             │
//	│  Ticker-driven rate-window reset and reaping of          │
//	│  delivered messages.                                     │
//	└─────────────────────────────────────────────────────────┘
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"linechat/internal/config"
	"linechat/internal/protocol"
	"linechat/internal/store"
)

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server ties together the connection registry, the message pool, the paced
// delivery queue, and the ops HTTP endpoint.
type Server struct {
	cfg *config.Config
	log zerolog.Logger

	msgs  *store.MessagePool
	conns *store.ConnPool
	queue *deliveryQueue
	ops   *opsServer

	listener net.Listener
	started  time.Time

	mu       sync.Mutex
	sessions map[*session]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server from cfg. Nothing listens until ListenAndServe.
func New(cfg *config.Config, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		log:      log,
		msgs:     store.NewMessagePool(),
		conns:    store.NewConnPool(),
		queue:    newDeliveryQueue(cfg.DeliveryRate, log.With().Str("component", "delivery").Logger()),
		sessions: make(map[*session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.ops = newOpsServer(s)
	return s
}

// ListenAndServe starts the background goroutines and then accepts TCP
// connections on addr until Shutdown closes the listener.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.started = time.Now()
	s.log.Info().Str("addr", addr).Msg("server listening")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.queue.run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.housekeeping()
	}()
	if s.cfg.OpsAddr != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ops.run(s.ctx, s.cfg.OpsAddr)
		}()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				// Closed by Shutdown.
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go s.serveConn(conn)
	}
}

// Shutdown stops accepting, closes every open session, and waits for the
// background goroutines to drain.
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		sess.close()
	}

	s.wg.Wait()
	s.log.Info().Msg("server stopped")
}

// serveConn registers a session for conn and launches its pumps. The first
// frame the peer sees is the name prompt.
func (s *Server) serveConn(conn net.Conn) {
	sess := newSession(s, conn)

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.conns.Add(store.NewConn(sess))

	connectionsTotal.Inc()
	connectionsActive.Inc()
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("connection opened")

	// writePump runs in its own goroutine; readLoop runs in this one.
	go sess.writePump()
	sess.SendFrame(protocol.Frame(protocol.OpChooseName, ""))
	sess.readLoop()
}

// dropSession unregisters a finished session. When a named user leaves, the
// remaining users get a fresh roster.
func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	if _, ok := s.sessions[sess]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess)
	s.mu.Unlock()

	var name string
	if c := s.conns.BySender(sess); c != nil {
		name = c.Name()
	}
	s.conns.RemoveBySender(sess)
	sess.close()

	connectionsActive.Dec()
	if name == "" {
		s.log.Info().Str("remote", sess.conn.RemoteAddr().String()).Msg("connection closed")
		return
	}
	namedUsers.Dec()
	s.log.Info().Str("user", name).Msg("user left")
	s.pushStatistic(nil)
}

// ---------------------------------------------------------------------------
// Frame dispatch
// ---------------------------------------------------------------------------

// handleLine processes one inbound frame. A connection that has not chosen a
// name yet is still negotiating: the whole line is a candidate name. After
// that the first token of each line selects the operation.
func (s *Server) handleLine(from store.FrameSender, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	c := s.conns.BySender(from)
	if c == nil {
		return
	}

	if c.Name() == "" {
		s.negotiateName(c, strings.TrimSpace(line))
		return
	}

	op, payload := protocol.Split(line)
	switch op {
	case protocol.OpGetStatistic:
		s.handleGetStatistic(c)
	case protocol.OpMessageApprove:
		s.handleApprove(c, payload)
	case protocol.OpChangeChat:
		s.handleChangeChat(c, payload)
	case protocol.OpBanUser:
		s.handleBanUser(c, payload)
	case protocol.OpMessageFromClient:
		s.handlePost(c, payload)
	default:
		s.log.Warn().Str("operator", string(op)).Str("user", c.Name()).Msg("unknown operator, frame ignored")
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// negotiateName resolves a candidate name. The first connection to claim a
// name under the pool lock wins; everyone else is rejected and may retry.
func (s *Server) negotiateName(c *store.Conn, name string) {
	if !s.conns.ClaimName(c, name) {
		c.Sender().SendFrame(protocol.Frame(protocol.OpNameRejected, ""))
		s.log.Info().Str("name", name).Msg("name already taken")
		return
	}

	c.Sender().SendFrame(protocol.Frame(protocol.OpNameAccepted, name))
	namedUsers.Inc()
	s.log.Info().Str("user", name).Msg("user joined")

	s.replayHistory(c)
	s.pushStatistic(c)
}

// replayHistory queues the stored backlog for a user who just picked a name.
// Only the newest HistoryInit messages are sent; anything older is marked
// received for this user so the reaper can let go of it.
func (s *Server) replayHistory(c *store.Conn) {
	msgs := s.msgs.All()
	if len(msgs) == 0 {
		return
	}
	if keep := s.cfg.HistoryInit; len(msgs) > keep {
		for _, m := range msgs[:len(msgs)-keep] {
			s.msgs.MarkReceived(m.ID, c.Name())
		}
		msgs = msgs[len(msgs)-keep:]
	}
	for _, m := range msgs {
		s.queue.enqueue(m, c.Sender())
	}
	messagesReplayed.Add(float64(len(msgs)))
	s.log.Debug().Str("user", c.Name()).Int("frames", len(msgs)).Msg("history replay queued")
}

func (s *Server) handleGetStatistic(c *store.Conn) {
	frame, err := s.statisticFrame()
	if err != nil {
		s.log.Error().Err(err).Msg("build statistic frame")
		return
	}
	c.Sender().SendFrame(frame)
}

// handleApprove records a delivery receipt. The receipt names the user it is
// for, so a receipt can arrive on any connection.
func (s *Server) handleApprove(c *store.Conn, payload string) {
	var ack protocol.Approve
	if err := json.Unmarshal([]byte(payload), &ack); err != nil {
		s.log.Warn().Err(err).Str("user", c.Name()).Msg("malformed approve payload, frame ignored")
		return
	}
	if s.msgs.MarkReceived(ack.UUID, ack.User) {
		acksAbsorbed.Inc()
	}
}

// handleChangeChat moves the connection to a new viewing scope, echoes the
// frame back as confirmation, and replays what the user has missed there.
func (s *Server) handleChangeChat(c *store.Conn, payload string) {
	chatType, chatName, err := protocol.ParseChangeChat(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("user", c.Name()).Msg("malformed change_chat, frame ignored")
		return
	}

	c.SetScope(store.Scope{Kind: chatType, Name: chatName})
	c.Sender().SendFrame(protocol.Frame(protocol.OpChangeChat, chatType+" "+chatName))

	var f store.Filter
	if chatType == protocol.ChatChannel {
		f = store.Filter{
			DestKind:        protocol.ChatChannel,
			DestName:        chatName,
			NotReceivedUser: c.Name(),
			NotFromCreator:  c.Name(),
		}
	} else {
		f = store.Filter{
			DestKind:        protocol.ChatPrivate,
			DestName:        c.Name(),
			Creator:         chatName,
			NotReceivedUser: c.Name(),
			NotFromCreator:  c.Name(),
		}
	}

	msgs := s.msgs.Get(f)
	for _, m := range msgs {
		s.queue.enqueue(m, c.Sender())
	}
	messagesReplayed.Add(float64(len(msgs)))
	s.log.Debug().Str("user", c.Name()).Str("kind", chatType).Str("chat", chatName).Int("frames", len(msgs)).Msg("scope changed")
}

// handleBanUser files a complaint against the named user. Crossing the
// complaint threshold bans the target and tells them so; the complainant
// gets no reply either way.
func (s *Server) handleBanUser(c *store.Conn, target string) {
	tc := s.conns.ByName(target)
	if tc == nil {
		s.log.Error().Str("target", target).Msg("ban target not connected")
		return
	}
	if !tc.RecordComplaint(c.Name(), s.cfg.ComplaintThreshold, s.cfg.BanDuration) {
		return
	}

	bansApplied.Inc()
	notice := fmt.Sprintf("You have been banned until `%s` and cannot send messages", tc.BanUntil().Format(time.ANSIC))
	tc.Sender().SendFrame(protocol.FreeText(notice))
	s.log.Info().Str("user", target).Time("until", tc.BanUntil()).Msg("user banned")
}

// handlePost stores a new message addressed to the sender's current scope
// and routes it to everyone watching that scope right now.
func (s *Server) handlePost(c *store.Conn, body string) {
	if body == "" {
		s.log.Info().Str("user", c.Name()).Msg("empty message body, frame ignored")
		return
	}

	intoGeneral := c.Scope().IsGeneral()
	ok, reason := c.CanPost(intoGeneral, s.cfg.RateLimit)
	if !ok {
		label := "rate_limit"
		if c.Banned() {
			label = "banned"
		}
		postsRejected.WithLabelValues(label).Inc()
		c.Sender().SendFrame(protocol.FreeText(reason))
		return
	}
	if intoGeneral {
		c.MarkSent()
	}

	m := store.NewMessage(c.Name(), c.Scope(), body)
	s.msgs.Add(m)
	messagesStored.Inc()

	n := s.conns.Route(m)
	messagesRouted.Add(float64(n))
	s.log.Debug().Str("user", c.Name()).Str("id", m.ID).Int("recipients", n).Msg("message routed")
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

func (s *Server) statisticFrame() ([]byte, error) {
	return protocol.FrameJSON(protocol.OpSetStatistic, protocol.Statistic{
		Users:    s.conns.Names(),
		Channels: s.conns.ChannelNames(),
	})
}

// pushStatistic refreshes the roster on every named connection except the
// given one. Callers pass the connection that caused the change so it is not
// told what it already knows.
func (s *Server) pushStatistic(except *store.Conn) {
	frame, err := s.statisticFrame()
	if err != nil {
		s.log.Error().Err(err).Msg("build statistic frame")
		return
	}
	for _, c := range s.conns.Named() {
		if c == except {
			continue
		}
		c.Sender().SendFrame(frame)
	}
}

// ---------------------------------------------------------------------------
// Housekeeping
// ---------------------------------------------------------------------------

// housekeeping runs the timed sweeps until shutdown: the rate-window reset
// and the reaping of messages that are both old and fully delivered.
func (s *Server) housekeeping() {
	rateTick := time.NewTicker(s.cfg.RateWindow)
	reapTick := time.NewTicker(s.cfg.ReapInterval)
	defer rateTick.Stop()
	defer reapTick.Stop()

	for {
		select {
		case <-rateTick.C:
			s.conns.ClearRateWindows()
			s.log.Info().Msg("rate windows reset")
		case <-reapTick.C:
			if n := s.msgs.ReapDelivered(s.cfg.Retention); n > 0 {
				messagesReaped.Add(float64(n))
				s.log.Info().Int("reaped", n).Msg("delivered messages reaped")
			}
		case <-s.ctx.Done():
			return
		}
	}
}
