package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/domain"
)

// Directory maps users to the conversations they participate in and owns
// the per-user unread counters and the last-activity pointer.
type Directory struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	users         domain.UserRepository
	logger        *zap.Logger
}

func NewDirectory(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	users domain.UserRepository,
	logger *zap.Logger,
) *Directory {
	return &Directory{
		conversations: conversations,
		participants:  participants,
		users:         users,
		logger:        logger,
	}
}

// FindOrCreateDirect returns the direct conversation between the two users,
// creating it on first contact. Idempotent and insensitive to argument
// order: FindOrCreateDirect(a, b) and FindOrCreateDirect(b, a) return the
// same conversation.
func (d *Directory) FindOrCreateDirect(ctx context.Context, userIDA, userIDB int64) (*domain.Conversation, error) {
	if userIDA == userIDB {
		return nil, fmt.Errorf("%w: a conversation needs two distinct participants", domain.ErrValidation)
	}
	// Normalize order so the lookup key is canonical.
	if userIDA > userIDB {
		userIDA, userIDB = userIDB, userIDA
	}

	for _, id := range []int64{userIDA, userIDB} {
		u, err := d.users.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		if u == nil || !u.IsActive {
			return nil, fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
		}
	}

	ids := []int64{userIDA, userIDB}
	existing, err := d.conversations.FindExistingDirect(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	conv := &domain.Conversation{IsGroup: false}
	if err := d.conversations.Create(ctx, conv, ids); err != nil {
		return nil, err
	}
	d.logger.Info("conversation created",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64s("participants", ids))
	return conv, nil
}

// Get returns the conversation if the user participates in it.
func (d *Directory) Get(ctx context.Context, conversationID, userID int64) (*domain.Conversation, error) {
	conv, err := d.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %d", domain.ErrNotFound, conversationID)
	}
	isParticipant, err := d.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	return conv, nil
}

func (d *Directory) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	return d.conversations.ListForUser(ctx, userID)
}

func (d *Directory) Participants(ctx context.Context, conversationID int64) ([]*domain.User, error) {
	return d.participants.ListParticipants(ctx, conversationID)
}

func (d *Directory) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	return d.participants.ListParticipantIDs(ctx, conversationID)
}

func (d *Directory) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	return d.participants.IsParticipant(ctx, conversationID, userID)
}

// PeerIDs returns the users sharing at least one conversation with userID.
func (d *Directory) PeerIDs(ctx context.Context, userID int64) ([]int64, error) {
	return d.participants.ListPeerIDs(ctx, userID)
}

// IncrementUnread bumps the unread counter; returns the new value.
func (d *Directory) IncrementUnread(ctx context.Context, conversationID, forUserID int64) (int, error) {
	return d.conversations.IncrementUnread(ctx, conversationID, forUserID)
}

// ClearUnread resets the unread counter. This is the only counter mutation
// a client may trigger directly, via the mark-read intent.
func (d *Directory) ClearUnread(ctx context.Context, conversationID, forUserID int64) error {
	return d.conversations.ClearUnread(ctx, conversationID, forUserID)
}

func (d *Directory) UnreadCount(ctx context.Context, conversationID, forUserID int64) (int, error) {
	return d.conversations.UnreadCount(ctx, conversationID, forUserID)
}

// TouchActivity bumps the conversation's last-activity timestamp. Updates
// arriving out of order are dropped so the value never regresses.
func (d *Directory) TouchActivity(ctx context.Context, conversationID int64, ts time.Time) error {
	return d.conversations.TouchActivity(ctx, conversationID, ts)
}
