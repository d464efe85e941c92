package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListActive(ctx context.Context, offset, limit int) ([]*User, error)
	ListOnline(ctx context.Context) ([]*User, error)
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool, lastSeen *time.Time) error
}

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation, participantIDs []int64) error
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]*Conversation, error)
	FindExistingDirect(ctx context.Context, participantIDs []int64) (*Conversation, error)
	// TouchActivity bumps last_activity_at; it is a no-op when ts is not
	// after the stored value.
	TouchActivity(ctx context.Context, conversationID int64, ts time.Time) error
	IncrementUnread(ctx context.Context, conversationID, userID int64) (int, error)
	ClearUnread(ctx context.Context, conversationID, userID int64) error
	UnreadCount(ctx context.Context, conversationID, userID int64) (int, error)
}

// MessageRepository defines persistence operations for messages and their
// per-recipient receipts.
type MessageRepository interface {
	// Create inserts the message and one sent receipt per recipient,
	// atomically. The caller assigns Seq.
	Create(ctx context.Context, m *Message, recipientIDs []int64) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	MaxSeq(ctx context.Context, conversationID int64) (int64, error)
	// ListSince returns up to limit messages with seq > afterSeq, in
	// ascending seq order.
	ListSince(ctx context.Context, conversationID, afterSeq int64, limit int) ([]*Message, error)
	// AdvanceReceipt moves one recipient's receipt forward, never backward.
	// Returns the recipient's resulting status.
	AdvanceReceipt(ctx context.Context, messageID, userID int64, status MessageStatus) (MessageStatus, error)
	// AggregateStatus returns the minimum receipt status for the message.
	AggregateStatus(ctx context.Context, messageID int64) (MessageStatus, error)
	SetStatus(ctx context.Context, messageID int64, status MessageStatus) error
	// ListUndelivered returns ids of messages in the conversation whose
	// receipt for the user is still behind the given status.
	ListBehind(ctx context.Context, conversationID, userID int64, status MessageStatus) ([]int64, error)
	PruneOld(ctx context.Context, conversationID int64, keepLimit int) error
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context, conversationID int64) ([]*User, error)
	ListParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	// ListPeerIDs returns the distinct ids of users sharing at least one
	// conversation with the given user, excluding the user itself.
	ListPeerIDs(ctx context.Context, userID int64) ([]int64, error)
}
