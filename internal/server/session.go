package server

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const writeTimeout = 10 * time.Second

var (
	errSessionClosed = errors.New("session closed")
	errSendFull      = errors.New("send buffer full")
)

// session owns one TCP connection.
//
// Two goroutines run per session:
//
//	readLoop  – reads newline-delimited frames from the TCP connection and
//	            hands each line to the server's protocol engine.
//	writePump – drains the send channel and writes frames to the TCP
//	            connection.
//
// This decouples reading from writing so a slow writer never blocks the
// handlers routing traffic to it.
type session struct {
	srv  *Server
	conn net.Conn
	send chan []byte // outbound newline-terminated frames

	mu     sync.Mutex
	closed bool
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:  srv,
		conn: conn,
		send: make(chan []byte, srv.cfg.SendBuffer),
	}
}

// SendFrame queues line for delivery. It never blocks: frames bound for a
// closed or backed-up session are dropped, so one stuck peer cannot stall
// the rest of the server.
func (s *session) SendFrame(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		framesDropped.Inc()
		return errSessionClosed
	}
	select {
	case s.send <- line:
		return nil
	default:
		framesDropped.Inc()
		return errSendFull
	}
}

// close marks the session dead, releases the writePump, and closes the TCP
// connection. Safe to call more than once.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.send)
	s.conn.Close()
}

// readLoop reads frames line by line and dispatches them. When the peer
// goes away the session is unregistered and torn down.
func (s *session) readLoop() {
	defer s.srv.dropSession(s)

	limiter := rate.NewLimiter(rate.Limit(s.srv.cfg.FrameRate), s.srv.cfg.FrameBurst)
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		if !limiter.Allow() {
			framesThrottled.Inc()
			s.srv.log.Warn().Str("remote", s.conn.RemoteAddr().String()).Msg("inbound frame flood, frame dropped")
			continue
		}
		s.srv.handleLine(s, scanner.Text())
	}
}

// writePump drains the send channel and writes each frame to the TCP
// connection. A write deadline bounds every write so a stuck peer cannot
// hold the goroutine forever.
func (s *session) writePump() {
	defer s.conn.Close()

	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := s.conn.Write(data); err != nil {
			return
		}
	}
}
