package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"chatcore/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, sender_id, seq, content, status, created_at`

// Create inserts the message and one sent receipt per recipient in a single
// transaction, so readers never observe a message without its receipts.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message, recipientIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, seq, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ConversationID, m.SenderID, m.Seq, m.Content, m.Status, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id

	for _, uid := range recipientIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_receipts (message_id, user_id, status, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		`, id, uid, domain.StatusSent); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Seq, &m.Content, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) MaxSeq(ctx context.Context, conversationID int64) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

func (r *MessageRepo) ListSince(ctx context.Context, conversationID, afterSeq int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Seq, &m.Content, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// AdvanceReceipt moves one recipient's receipt forward. Regressions are
// silently ignored; the stored status never moves backward.
func (r *MessageRepo) AdvanceReceipt(ctx context.Context, messageID, userID int64, status domain.MessageStatus) (domain.MessageStatus, error) {
	var current domain.MessageStatus
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM message_receipts WHERE message_id = ? AND user_id = ?
	`, messageID, userID).Scan(&current)
	if err == sql.ErrNoRows {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get receipt: %w", err)
	}

	if status.Rank() <= current.Rank() {
		return current, nil
	}

	if _, err := r.db.ExecContext(ctx, `
		UPDATE message_receipts
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE message_id = ? AND user_id = ?
	`, status, messageID, userID); err != nil {
		return "", fmt.Errorf("advance receipt: %w", err)
	}
	return status, nil
}

// AggregateStatus is the minimum receipt status across all recipients: the
// message is only read once everyone has read it.
func (r *MessageRepo) AggregateStatus(ctx context.Context, messageID int64) (domain.MessageStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status FROM message_receipts WHERE message_id = ?
	`, messageID)
	if err != nil {
		return "", fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	min := domain.StatusRead
	found := false
	for rows.Next() {
		var s domain.MessageStatus
		if err := rows.Scan(&s); err != nil {
			return "", fmt.Errorf("scan receipt: %w", err)
		}
		found = true
		if s.Rank() < min.Rank() {
			min = s
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if !found {
		return "", domain.ErrNotFound
	}
	return min, nil
}

func (r *MessageRepo) SetStatus(ctx context.Context, messageID int64, status domain.MessageStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ? WHERE id = ?
	`, status, messageID)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) ListBehind(ctx context.Context, conversationID, userID int64, status domain.MessageStatus) ([]int64, error) {
	// Receipt statuses sort lexically in chain order by accident only for
	// some pairs, so filter by explicit enumeration of the lagging states.
	var lagging []string
	for _, s := range []domain.MessageStatus{domain.StatusSent, domain.StatusDelivered} {
		if s.Rank() < status.Rank() {
			lagging = append(lagging, string(s))
		}
	}
	if len(lagging) == 0 {
		return nil, nil
	}
	placeholders := "?" + strings.Repeat(",?", len(lagging)-1)
	args := []any{conversationID, userID}
	for _, s := range lagging {
		args = append(args, s)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT mr.message_id
		FROM message_receipts mr
		JOIN messages m ON m.id = mr.message_id
		WHERE m.conversation_id = ? AND mr.user_id = ? AND mr.status IN (`+placeholders+`)
		ORDER BY m.seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list behind: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MessageRepo) PruneOld(ctx context.Context, conversationID int64, keepLimit int) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&count); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if count <= keepLimit {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE id IN (
			SELECT id FROM messages
			WHERE conversation_id = ?
			ORDER BY seq ASC
			LIMIT ?
		)
	`, conversationID, count-keepLimit)
	if err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	return nil
}
