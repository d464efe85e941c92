package domain

import "time"

// MessageStatus is the delivery state of a message. Transitions only ever
// advance along StatusSent -> StatusDelivered -> StatusRead.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank returns the position of the status in the monotonic chain, or -1 for
// an unknown value.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// User represents an application user.
type User struct {
	ID             int64      `db:"id" json:"id"`
	Username       string     `db:"username" json:"username"`
	Email          *string    `db:"email" json:"email,omitempty"`
	Avatar         *string    `db:"avatar" json:"avatar,omitempty"`
	HashedPassword string     `db:"hashed_password" json:"-"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	IsOnline       bool       `db:"is_online" json:"is_online"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastSeen       *time.Time `db:"last_seen" json:"last_seen,omitempty"`
}

// Conversation represents a chat conversation. The participant set is
// immutable after creation for direct conversations.
type Conversation struct {
	ID             int64     `db:"id" json:"id"`
	Name           *string   `db:"name" json:"name,omitempty"`
	IsGroup        bool      `db:"is_group" json:"is_group"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}

// ConversationParticipant is the membership of a user in a conversation,
// including their unread counter.
type ConversationParticipant struct {
	UserID         int64      `db:"user_id"`
	ConversationID int64      `db:"conversation_id"`
	UnreadCount    int        `db:"unread_count"`
	JoinedAt       *time.Time `db:"joined_at"`
}

// Message is a single chat message. Content is immutable after creation;
// only Status advances. Seq is the per-conversation sequence number and the
// sole ordering authority; CreatedAt is informational.
type Message struct {
	ID             int64         `db:"id"`
	ConversationID int64         `db:"conversation_id"`
	SenderID       int64         `db:"sender_id"`
	Seq            int64         `db:"seq"`
	Content        string        `db:"content"` // encrypted at rest
	Status         MessageStatus `db:"status"`
	CreatedAt      time.Time     `db:"created_at"`
}

// Receipt tracks one recipient's delivery state for one message. The
// message's aggregate Status is the minimum status across its receipts.
type Receipt struct {
	MessageID int64         `db:"message_id"`
	UserID    int64         `db:"user_id"`
	Status    MessageStatus `db:"status"`
	UpdatedAt time.Time     `db:"updated_at"`
}

// TypingStatus is the ephemeral typing indicator for one user in one
// conversation. Never persisted; lifetime is bounded by the typing expiry.
type TypingStatus struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}
