package ws

import (
	"sync"

	"go.uber.org/zap"

	"chatcore/internal/chat"
)

// Hub is the subscription registry of the session gateway: it tracks active
// sessions per user and the fan-out set per conversation. It implements
// chat.Sink and chat.Roster so the core stays transport-free.
type Hub struct {
	mu             sync.RWMutex
	byUser         map[int64]map[*Session]struct{}
	byConversation map[int64]map[*Session]struct{}
	logger         *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		byUser:         make(map[int64]map[*Session]struct{}),
		byConversation: make(map[int64]map[*Session]struct{}),
		logger:         logger,
	}
}

var (
	_ chat.Sink   = (*Hub)(nil)
	_ chat.Roster = (*Hub)(nil)
)

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[s.UserID] == nil {
		h.byUser[s.UserID] = make(map[*Session]struct{})
	}
	h.byUser[s.UserID][s] = struct{}{}
}

// unregister removes the session from both registries. Safe to call more
// than once.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessions, ok := h.byUser[s.UserID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.byUser, s.UserID)
		}
	}
	h.detachLocked(s)
}

// subscribe moves the session's conversation subscription. A session views
// at most one conversation; subscribing to a new one implicitly leaves the
// previous.
func (h *Hub) subscribe(s *Session, conversationID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(s)
	if h.byConversation[conversationID] == nil {
		h.byConversation[conversationID] = make(map[*Session]struct{})
	}
	h.byConversation[conversationID][s] = struct{}{}
}

func (h *Hub) unsubscribe(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(s)
}

func (h *Hub) detachLocked(s *Session) {
	for convID, sessions := range h.byConversation {
		if _, ok := sessions[s]; ok {
			delete(sessions, s)
			if len(sessions) == 0 {
				delete(h.byConversation, convID)
			}
		}
	}
}

// IsViewing reports whether the user has at least one session currently
// joined to the conversation.
func (h *Hub) IsViewing(conversationID, userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.byConversation[conversationID] {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// SendToUsers enqueues the event on every active session of the given
// users. Enqueueing never blocks; a full session queue drops the event and
// flags the session for cursor resync.
func (h *Hub) SendToUsers(userIDs []int64, evt chat.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, uid := range userIDs {
		for s := range h.byUser[uid] {
			s.enqueue(evt)
		}
	}
}

// SendToConversation enqueues the event on every session joined to the
// conversation, skipping sessions of exceptUserID (0 skips nobody).
func (h *Hub) SendToConversation(conversationID, exceptUserID int64, evt chat.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.byConversation[conversationID] {
		if exceptUserID != 0 && s.UserID == exceptUserID {
			continue
		}
		s.enqueue(evt)
	}
}

// CloseAll closes every session; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*Session
	for _, sessions := range h.byUser {
		for s := range sessions {
			all = append(all, s)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
