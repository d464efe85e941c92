package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatcore/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation, participantIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (name, is_group, created_at, last_activity_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, c.Name, c.IsGroup)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id

	for _, uid := range participantIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_participants (user_id, conversation_id, unread_count, joined_at)
			VALUES (?, ?, 0, CURRENT_TIMESTAMP)
		`, uid, id); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, created_at, last_activity_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.is_group, c.created_at, c.last_activity_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = ?
		ORDER BY c.last_activity_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// FindExistingDirect looks for a non-group conversation containing exactly
// the given participants, regardless of order.
func (r *ConversationRepo) FindExistingDirect(ctx context.Context, participantIDs []int64) (*domain.Conversation, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}
	placeholders := "?" + strings.Repeat(",?", len(participantIDs)-1)
	args := make([]any, 0, len(participantIDs)+1)
	for _, id := range participantIDs {
		args = append(args, id)
	}
	args = append(args, len(participantIDs))

	query := `
		SELECT c.id, c.name, c.is_group, c.created_at, c.last_activity_at
		FROM conversations c
		WHERE c.is_group = 0
		  AND c.id IN (
			SELECT conversation_id
			FROM conversation_participants
			GROUP BY conversation_id
			HAVING COUNT(*) = SUM(CASE WHEN user_id IN (` + placeholders + `) THEN 1 ELSE 0 END)
			   AND COUNT(*) = ?
		  )
		LIMIT 1
	`
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	return c, nil
}

// TouchActivity bumps last_activity_at; out-of-order updates are dropped by
// the WHERE guard so the value never regresses.
func (r *ConversationRepo) TouchActivity(ctx context.Context, conversationID int64, ts time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_activity_at = ?
		WHERE id = ? AND last_activity_at < ?
	`, ts.UTC(), conversationID, ts.UTC())
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

func (r *ConversationRepo) IncrementUnread(ctx context.Context, conversationID, userID int64) (int, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("increment unread: %w", err)
	}
	return r.UnreadCount(ctx, conversationID, userID)
}

func (r *ConversationRepo) ClearUnread(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("clear unread: %w", err)
	}
	return nil
}

func (r *ConversationRepo) UnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT unread_count
		FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}
