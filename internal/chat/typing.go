package chat

import (
	"sync"
	"time"
)

// TypingCoordinator tracks ephemeral typing state per (conversation, user)
// pair. Events fire only on edge transitions: repeated keystrokes while
// already typing refresh the expiry but emit nothing, so a burst of
// keystrokes produces exactly one typing event.
type TypingCoordinator struct {
	mu     sync.Mutex
	active map[typingKey]*time.Timer

	sink   Sink
	expiry time.Duration
}

type typingKey struct {
	conversationID int64
	userID         int64
}

func NewTypingCoordinator(sink Sink, expiry time.Duration) *TypingCoordinator {
	return &TypingCoordinator{
		active: make(map[typingKey]*time.Timer),
		sink:   sink,
		expiry: expiry,
	}
}

// SetTyping records a typing intent. Starting typing schedules an automatic
// expiry after the inactivity window unless refreshed; an explicit false
// cancels the timer immediately.
func (t *TypingCoordinator) SetTyping(conversationID, userID int64, isTyping bool) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	timer, wasTyping := t.active[key]

	if isTyping {
		if wasTyping {
			timer.Reset(t.expiry)
			t.mu.Unlock()
			return
		}
		t.active[key] = time.AfterFunc(t.expiry, func() {
			t.stop(key)
		})
		t.mu.Unlock()
		t.sink.SendToConversation(conversationID, userID, TypingEvent(conversationID, userID, true))
		return
	}

	if !wasTyping {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(t.active, key)
	t.mu.Unlock()
	t.sink.SendToConversation(conversationID, userID, TypingEvent(conversationID, userID, false))
}

// ClearOnSend clears the typist's state immediately when their message is
// accepted, even if the inactivity timer has not elapsed yet.
func (t *TypingCoordinator) ClearOnSend(conversationID, userID int64) {
	t.SetTyping(conversationID, userID, false)
}

// IsTyping reports the current state; used by tests and session join to
// seed a late joiner's view.
func (t *TypingCoordinator) IsTyping(conversationID, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{conversationID, userID}]
	return ok
}

// Shutdown cancels all pending expiry timers.
func (t *TypingCoordinator) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.active {
		timer.Stop()
		delete(t.active, key)
	}
}

func (t *TypingCoordinator) stop(key typingKey) {
	t.mu.Lock()
	if _, ok := t.active[key]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()
	t.sink.SendToConversation(key.conversationID, key.userID, TypingEvent(key.conversationID, key.userID, false))
}
