package p2p

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/novachain/novad/foundation/blockchain/peer"
)

// Timeouts governing a session. A peer that stays silent past pongWait or
// cannot take a write within writeWait is disconnected, nobody else is
// affected.
const (
	writeWait  = 10 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var (
	// ErrPeerTimeout is returned when the peer missed its deadlines.
	ErrPeerTimeout = errors.New("peer timed out")

	// ErrSlowPeer is returned when the peer cannot drain its send queue.
	ErrSlowPeer = errors.New("peer cannot keep up")

	// ErrClosed is returned when sending on a finished session.
	ErrClosed = errors.New("session closed")
)

// HandlerFunc processes one inbound message. Handlers run on the session's
// read goroutine so messages from one peer are processed in order.
type HandlerFunc func(s *Session, msg Message)

// Session owns one websocket connection to a peer. A read loop dispatches
// inbound frames and a write loop drains the send queue and keeps the
// connection alive with pings.
type Session struct {
	pr        peer.Peer
	conn      *websocket.Conn
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	evHandler func(v string, args ...any)
}

func newSession(conn *websocket.Conn, pr peer.Peer, evHandler func(v string, args ...any)) *Session {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Session{
		pr:        pr,
		conn:      conn,
		send:      make(chan Message, sendBuffer),
		done:      make(chan struct{}),
		evHandler: evHandler,
	}
}

// Peer returns the peer on the other end of the session.
func (s *Session) Peer() peer.Peer {
	return s.pr
}

// Done is closed when the session has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session finished. Valid after Done is closed.
func (s *Session) Err() error {
	return s.closeErr
}

// Send queues a message for the peer. A peer that cannot keep up is
// disconnected rather than allowed to block the caller.
func (s *Session) Send(msg Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		s.close(ErrSlowPeer)
		return ErrSlowPeer
	}
}

// Close terminates the session.
func (s *Session) Close() {
	s.close(nil)
}

// close records the first reason and shuts the connection down.
func (s *Session) close(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.done)
		s.conn.Close()
	})
}

// Run drives the session until the connection dies or Close is called. The
// handler is invoked for every inbound message. Run blocks and returns the
// reason the session ended.
func (s *Session) Run(handler HandlerFunc) error {
	s.evHandler("p2p: session: %s: started", s.pr.Host)
	defer s.evHandler("p2p: session: %s: ended", s.pr.Host)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	s.readLoop(handler)

	wg.Wait()

	return s.closeErr
}

// readLoop owns all reads on the connection. Any frame from the peer counts
// as life, a silent peer hits the pong deadline and is dropped.
func (s *Session) readLoop(handler HandlerFunc) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				err = ErrPeerTimeout
			}
			s.close(err)
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		handler(s, msg)
	}
}

// writeLoop owns all writes on the connection.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.close(err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				s.close(ErrPeerTimeout)
				return
			}

		case <-s.done:
			return
		}
	}
}
