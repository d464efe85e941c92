package chat

import (
	"time"

	"chatcore/internal/domain"
)

// Event is a JSON-serializable payload pushed to client sessions. The
// "type" key discriminates the event kind on the wire.
type Event map[string]any

// Type returns the event's discriminator, or "" if absent.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Sink delivers events to connected sessions. Implemented by the WebSocket
// hub; the core never touches a transport directly.
type Sink interface {
	// SendToUsers delivers the event to every active session of the given users.
	SendToUsers(userIDs []int64, evt Event)
	// SendToConversation delivers the event to every session currently
	// joined to the conversation, except sessions of exceptUserID
	// (pass 0 to deliver to all).
	SendToConversation(conversationID, exceptUserID int64, evt Event)
}

// Roster reports which users currently have a session focused on a
// conversation. Implemented by the WebSocket hub.
type Roster interface {
	IsViewing(conversationID, userID int64) bool
}

// Event type discriminators.
const (
	EventMessage       = "message"
	EventMessageStatus = "message_status"
	EventTyping        = "typing"
	EventPresence      = "presence"
	EventUnreadCount   = "unread_count"
	EventResync        = "resync"
	EventError         = "error"
)

func MessageEvent(v *MessageView) Event {
	return Event{
		"type":            EventMessage,
		"message_id":      v.ID,
		"conversation_id": v.ConversationID,
		"seq":             v.Seq,
		"sender_id":       v.SenderID,
		"sender_username": v.SenderUsername,
		"content":         v.Content,
		"status":          v.Status,
		"timestamp":       v.CreatedAt,
	}
}

func MessageStatusEvent(conversationID, messageID int64, status domain.MessageStatus) Event {
	return Event{
		"type":            EventMessageStatus,
		"conversation_id": conversationID,
		"message_id":      messageID,
		"status":          status,
	}
}

func TypingEvent(conversationID, userID int64, isTyping bool) Event {
	return Event{
		"type":            EventTyping,
		"conversation_id": conversationID,
		"user_id":         userID,
		"is_typing":       isTyping,
	}
}

func PresenceEvent(userID int64, isOnline bool, lastSeen *time.Time) Event {
	evt := Event{
		"type":      EventPresence,
		"user_id":   userID,
		"is_online": isOnline,
	}
	if lastSeen != nil {
		evt["last_seen"] = lastSeen.UTC()
	}
	return evt
}

func UnreadCountEvent(conversationID int64, count int) Event {
	return Event{
		"type":            EventUnreadCount,
		"conversation_id": conversationID,
		"count":           count,
	}
}

// ResyncEvent advises a client that events were dropped and it should
// re-fetch messages via the cursor API.
func ResyncEvent() Event {
	return Event{"type": EventResync}
}
