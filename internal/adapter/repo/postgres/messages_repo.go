package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// MessageRepo stores the chat transcript.
type MessageRepo struct{ Pool PgxPool }

// NewMessageRepo constructs a MessageRepo with the given pool.
func NewMessageRepo(p PgxPool) *MessageRepo { return &MessageRepo{Pool: p} }

// Recent returns up to limit messages, newest first. chatID takes precedence over userID.
func (r *MessageRepo) Recent(ctx domain.Context, userID, chatID string, limit int) ([]domain.ChatMessage, error) {
	ctx, span := otel.Tracer("repo.messages").Start(ctx, "messages.Recent")
	defer span.End()
	col, key := "user_id", userID
	if chatID != "" {
		col, key = "chat_id", chatID
	}
	q := `SELECT id, role, content, user_id, chat_id, created_at FROM chat_messages WHERE ` + col + `=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, key, limit)
	if err != nil {
		return nil, fmt.Errorf("op=message.recent: %w", err)
	}
	defer rows.Close()
	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.UserID, &m.ChatID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=message.recent: %w", err)
		}
		m.Role = domain.MessageRole(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=message.recent: %w", err)
	}
	return out, nil
}

// Append inserts msgs in one transaction. Later messages get strictly later timestamps
// so the user turn always sorts before the assistant reply.
func (r *MessageRepo) Append(ctx domain.Context, msgs ...domain.ChatMessage) error {
	ctx, span := otel.Tracer("repo.messages").Start(ctx, "messages.Append")
	defer span.End()
	if len(msgs) == 0 {
		return nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=message.append: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	base := time.Now().UTC()
	q := `INSERT INTO chat_messages (id, role, content, user_id, chat_id, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		}
		if _, err := tx.Exec(ctx, q, m.ID, string(m.Role), m.Content, m.UserID, m.ChatID, m.CreatedAt); err != nil {
			return fmt.Errorf("op=message.append: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=message.append: commit: %w", err)
	}
	return nil
}
