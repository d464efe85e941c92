package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/domain"
	"chatcore/internal/security"
)

// MessageService is the message store: the durable, ordered, append-mostly
// log of messages per conversation and the source of truth for delivery and
// read status.
type MessageService struct {
	messages      domain.MessageRepository
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	users         domain.UserRepository
	encryptor     *security.Encryptor
	locks         *KeyedMutex
	logger        *zap.Logger

	PageSize                   int
	MaxMessagesPerConversation int
}

func NewMessageService(
	messages domain.MessageRepository,
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	users domain.UserRepository,
	encryptor *security.Encryptor,
	logger *zap.Logger,
	pageSize, maxMessages int,
) *MessageService {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &MessageService{
		messages:                   messages,
		conversations:              conversations,
		participants:               participants,
		users:                      users,
		encryptor:                  encryptor,
		locks:                      NewKeyedMutex(),
		logger:                     logger,
		PageSize:                   pageSize,
		MaxMessagesPerConversation: maxMessages,
	}
}

const maxContentRunes = 5000

// Append validates and durably appends a message to the conversation's log,
// assigning the next sequence number under the conversation's lock so all
// consumers observe one total order per conversation. The timestamp is
// assigned here, never taken from the client.
func (s *MessageService) Append(ctx context.Context, conversationID, senderID int64, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is empty", domain.ErrValidation)
	}
	if len([]rune(content)) > maxContentRunes {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", domain.ErrValidation, maxContentRunes)
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %d", domain.ErrNotFound, conversationID)
	}
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return nil, fmt.Errorf("%w: sender %d is not a participant", domain.ErrValidation, senderID)
	}

	recipientIDs, err := s.participants.ListParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	others := recipientIDs[:0]
	for _, id := range recipientIDs {
		if id != senderID {
			others = append(others, id)
		}
	}

	encrypted, err := s.encryptor.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	seq, err := s.messages.MaxSeq(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Seq:            seq + 1,
		Content:        encrypted,
		Status:         domain.StatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, msg, others); err != nil {
		return nil, err
	}

	if s.MaxMessagesPerConversation > 0 {
		if err := s.messages.PruneOld(ctx, conversationID, s.MaxMessagesPerConversation); err != nil {
			return nil, fmt.Errorf("prune old messages: %w", err)
		}
	}

	return msg, nil
}

// ListSince returns one page of messages strictly after the cursor, in
// ascending sequence order, plus the cursor for the next page. The sequence
// is restartable: the same cursor always yields the same page boundary.
func (s *MessageService) ListSince(ctx context.Context, conversationID, userID int64, cursor string, limit int) ([]*MessageView, string, error) {
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, "", fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return nil, "", fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}

	afterSeq, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 || limit > s.PageSize {
		limit = s.PageSize
	}

	msgs, err := s.messages.ListSince(ctx, conversationID, afterSeq, limit)
	if err != nil {
		return nil, "", err
	}

	views := make([]*MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, s.View(ctx, m))
	}

	next := ""
	if len(msgs) == limit {
		next = EncodeCursor(msgs[len(msgs)-1].Seq)
	}
	return views, next, nil
}

// UpdateStatus advances a message's aggregate status by exactly one step in
// the sent -> delivered -> read chain. Regressions and skips fail with
// ErrInvalidTransition and leave the stored state untouched.
func (s *MessageService) UpdateStatus(ctx context.Context, messageID int64, status domain.MessageStatus) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %d", domain.ErrNotFound, messageID)
	}
	if status.Rank() != msg.Status.Rank()+1 {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, msg.Status, status)
	}
	if err := s.messages.SetStatus(ctx, messageID, status); err != nil {
		return nil, err
	}
	msg.Status = status
	return msg, nil
}

// MarkDelivered advances one recipient's receipt to delivered and refreshes
// the aggregate status. Returns the message and whether the aggregate
// changed. Idempotent: re-marking an already delivered message is a no-op.
func (s *MessageService) MarkDelivered(ctx context.Context, messageID, userID int64) (*domain.Message, bool, error) {
	return s.advance(ctx, messageID, userID, domain.StatusDelivered)
}

// MarkRead advances one recipient's receipt through delivered to read. The
// aggregate may appear to jump sent -> read when a recipient was actively
// viewing at send time; that is the collapsed causal step, not a skip.
func (s *MessageService) MarkRead(ctx context.Context, messageID, userID int64) (*domain.Message, bool, error) {
	return s.advance(ctx, messageID, userID, domain.StatusRead)
}

func (s *MessageService) advance(ctx context.Context, messageID, userID int64, target domain.MessageStatus) (*domain.Message, bool, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if msg == nil {
		return nil, false, fmt.Errorf("%w: message %d", domain.ErrNotFound, messageID)
	}

	s.locks.Lock(msg.ConversationID)
	defer s.locks.Unlock(msg.ConversationID)

	// Receipts advance stepwise so each recipient's observed sequence is a
	// subsequence of sent, delivered, read.
	for _, step := range []domain.MessageStatus{domain.StatusDelivered, domain.StatusRead} {
		if step.Rank() > target.Rank() {
			break
		}
		if _, err := s.messages.AdvanceReceipt(ctx, messageID, userID, step); err != nil {
			return nil, false, err
		}
	}

	agg, err := s.messages.AggregateStatus(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if agg.Rank() < msg.Status.Rank() {
		// A receipt regression cannot happen through this path; seeing one
		// means client/server desync. Drop the update, keep current state.
		s.logger.Warn("dropping status regression",
			zap.Int64("message_id", messageID),
			zap.String("have", string(msg.Status)),
			zap.String("aggregate", string(agg)))
		return msg, false, nil
	}
	if agg == msg.Status {
		return msg, false, nil
	}
	if err := s.messages.SetStatus(ctx, messageID, agg); err != nil {
		return nil, false, err
	}
	msg.Status = agg
	return msg, true, nil
}

// ListBehind returns ids of messages in the conversation whose receipt for
// the user is still behind the given status, oldest first.
func (s *MessageService) ListBehind(ctx context.Context, conversationID, userID int64, status domain.MessageStatus) ([]int64, error) {
	return s.messages.ListBehind(ctx, conversationID, userID, status)
}

// Latest returns the most recent message of a conversation, or nil.
func (s *MessageService) Latest(ctx context.Context, conversationID int64) (*MessageView, error) {
	seq, err := s.messages.MaxSeq(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if seq == 0 {
		return nil, nil
	}
	msgs, err := s.messages.ListSince(ctx, conversationID, seq-1, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return s.View(ctx, msgs[0]), nil
}

// MessageView is the decrypted client-facing projection of a message.
type MessageView struct {
	ID             int64                `json:"id"`
	ConversationID int64                `json:"conversation_id"`
	SenderID       int64                `json:"sender_id"`
	SenderUsername string               `json:"sender_username"`
	Seq            int64                `json:"seq"`
	Content        string               `json:"content"`
	Status         domain.MessageStatus `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
}

// View converts a stored message into its decrypted projection.
func (s *MessageService) View(ctx context.Context, m *domain.Message) *MessageView {
	content := m.Content
	if dec, err := s.encryptor.Decrypt(m.Content); err == nil {
		content = dec
	} else {
		s.logger.Warn("failed to decrypt message", zap.Int64("message_id", m.ID), zap.Error(err))
	}
	var username string
	if u, err := s.users.GetByID(ctx, m.SenderID); err == nil && u != nil {
		username = u.Username
	}
	return &MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderUsername: username,
		Seq:            m.Seq,
		Content:        content,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
	}
}
