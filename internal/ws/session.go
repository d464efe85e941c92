package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatcore/internal/chat"
	"chatcore/internal/domain"
)

// SessionState is the connection lifecycle state. Transitions:
// Connecting -> Active -> (Joined | Idle) -> Closed. Closed is terminal.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateJoined
	StateIdle
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateJoined:
		return "joined"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection tuning parameters.
var (
	writeWait    = 10 * time.Second    // time allowed to write a frame to the peer
	pongWait     = 60 * time.Second    // time allowed to read the next pong
	pingInterval = (pongWait * 9) / 10 // ping period, must be below pongWait
	maxFrameSize = 64 * 1024           // max inbound frame size
)

// Session is one WebSocket connection of one user. Outbound events flow
// through a bounded egress channel: a slow consumer drops events instead of
// back-pressuring producers, and is flagged for cursor-based resync.
type Session struct {
	ID     string
	UserID int64

	conn   *websocket.Conn
	hub    *Hub
	egress chan chat.Event
	logger *zap.Logger

	mu         sync.Mutex // guards state and joinedConv
	state      SessionState
	joinedConv int64

	needsResync atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once

	// ctx is canceled on Close so in-flight core operations targeting this
	// session stop promptly on disconnect.
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(userID int64, conn *websocket.Conn, hub *Hub, bufSize int, logger *zap.Logger) *Session {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ctx:    ctx,
		cancel: cancel,
		ID:     id,
		UserID: userID,
		conn:   conn,
		hub:    hub,
		egress: make(chan chat.Event, bufSize),
		logger: logger.With(zap.String("session_id", id), zap.Int64("user_id", userID)),
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
}

// activate moves Connecting -> Active once presence is registered.
func (s *Session) activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return domain.ErrSessionClosed
	}
	s.state = StateActive
	return nil
}

// Join subscribes the session to a conversation's event streams. At most
// one conversation is joined per session; joining a new one implicitly
// leaves the previous. Serialized by s.mu so the subscription set is always
// well-defined even when join and leave race.
func (s *Session) Join(conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return domain.ErrSessionClosed
	}
	s.hub.subscribe(s, conversationID)
	s.state = StateJoined
	s.joinedConv = conversationID
	return nil
}

// Leave drops the conversation subscription, moving the session to Idle.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return domain.ErrSessionClosed
	}
	s.hub.unsubscribe(s)
	s.state = StateIdle
	s.joinedConv = 0
	return nil
}

// Joined returns the currently joined conversation id, or 0.
func (s *Session) Joined() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedConv
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enqueue offers an event to the egress queue without ever blocking the
// producer. On overflow the event is dropped and the session flagged: the
// write pump will advise the client to resync via the cursor API.
func (s *Session) enqueue(evt chat.Event) {
	select {
	case <-s.done:
	case s.egress <- evt:
	default:
		if !s.needsResync.Swap(true) {
			s.logger.Warn("egress queue full, dropping event",
				zap.String("event", evt.Type()))
		}
	}
}

// Close terminates the session: unsubscribes it, cancels in-flight fan-out
// by closing done, and closes the underlying connection. Idempotent; the
// session accepts no further intents afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.joinedConv = 0
		s.mu.Unlock()

		s.cancel()
		close(s.done)
		s.hub.unregister(s)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Context is canceled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// writePump drains the egress queue to the socket and keeps the connection
// alive with periodic pings. One writer per connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case evt := <-s.egress:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(evt); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				return
			}
			if s.needsResync.Swap(false) {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteJSON(chat.ResyncEvent()); err != nil {
					return
				}
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
