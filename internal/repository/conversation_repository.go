package repository

import (
	"context"
	"time"

	"whalepulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const createAdvisorMessagesTable = `
CREATE TABLE IF NOT EXISTS advisor_messages (
    id         BIGSERIAL   PRIMARY KEY,
    session_id BIGINT      NOT NULL,
    role       TEXT        NOT NULL,
    content    TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_advisor_messages_session_time
    ON advisor_messages (session_id, created_at DESC);
`

// ConversationRepository stores advisor chat history. Sessions are keyed by
// the surface's own id: Telegram chat id, SSH user id, or the HTTP caller's
// session_id.
type ConversationRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewConversationRepository(pool PgxPool, tracer trace.Tracer) *ConversationRepository {
	return &ConversationRepository{pool: pool, tracer: tracer}
}

func (r *ConversationRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "conversation-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createAdvisorMessagesTable)
	return err
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, sessionID int64, role, content string) error {
	_, span := r.tracer.Start(ctx, "conversation-repo.append-message")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO advisor_messages (session_id, role, content) VALUES ($1, $2, $3)`,
		sessionID, role, content,
	)
	return err
}

// RecentMessages returns up to limit messages for a session in chronological
// order, ready for prompt assembly.
func (r *ConversationRepository) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]domain.ConversationMessage, error) {
	_, span := r.tracer.Start(ctx, "conversation-repo.recent-messages")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT role, content, created_at FROM advisor_messages
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.ConversationMessage
	for rows.Next() {
		var (
			m  domain.ConversationMessage
			ts time.Time
		)
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.CreatedAt = ts.UTC()
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walks newest-first so LIMIT keeps the tail of the
	// conversation; flip it back to reading order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// DeleteOlderThan prunes stale history across all sessions.
func (r *ConversationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	_, span := r.tracer.Start(ctx, "conversation-repo.delete-older-than")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM advisor_messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
