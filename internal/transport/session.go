package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mouldrestoration/livesync/pkg/proto"
)

// closeGrace bounds how long Close waits for queued frames to flush.
const closeGrace = time.Second

type outbound struct {
	topic proto.Topic
	frame []byte
}

// session is one open socket and its pumps.
type session struct {
	conn     *websocket.Conn
	send     chan outbound
	closing  chan struct{} // asks the write pump to flush and send a close frame
	flushed  chan struct{} // closed when the write pump exits
	done     chan struct{}
	once     sync.Once
	lastSeen atomic.Int64 // unix nanos of the last inbound frame
}

func newSession(conn *websocket.Conn, buffer int) *session {
	s := &session{
		conn:    conn,
		send:    make(chan outbound, buffer),
		closing: make(chan struct{}),
		flushed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *session) silence() time.Duration {
	return time.Since(time.Unix(0, s.lastSeen.Load()))
}

// write is only called from the write pump.
func (s *session) write(frame []byte, timeout time.Duration) error {
	s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// flush drains queued frames and sends a normal closure. Only called from
// the write pump.
func (s *session) flush(timeout time.Duration) {
	for {
		select {
		case out := <-s.send:
			if err := s.write(out.frame, timeout); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			s.conn.SetWriteDeadline(time.Now().Add(timeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}

// shutdown stops the pumps and closes the socket. A graceful shutdown
// returns at once and closes the socket once the write pump has flushed or
// closeGrace has passed.
func (s *session) shutdown(graceful bool) {
	s.once.Do(func() {
		if !graceful {
			s.stop()
			return
		}
		close(s.closing)
		go func() {
			select {
			case <-s.flushed:
			case <-time.After(closeGrace):
			}
			s.stop()
		}()
	})
}

func (s *session) stop() {
	close(s.done)
	s.conn.Close()
}

// stopped reports whether the socket has been closed.
func (s *session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
