package repository

import (
	"context"
	"errors"
	"time"

	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/pagination"
	"github.com/finclaw/agentd/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionRepository struct {
	db dbtx
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: pool}
}

func NewSessionRepositoryWithTx(tx pgx.Tx) *SessionRepository {
	return &SessionRepository{db: tx}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO agent_sessions (id, user_id, channel, thread_id, title, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.Channel, nullableString(s.ThreadID), nullableString(s.Title), s.Metadata, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// GetByIDAndUser looks up a session filtered by both id and owning user.
// A session owned by someone else is indistinguishable from a missing one.
func (r *SessionRepository) GetByIDAndUser(ctx context.Context, id, userID string) (*domain.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, channel, thread_id, title, metadata, created_at, updated_at
		 FROM agent_sessions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// ListByUser returns a user's sessions ordered by recency, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*service.SessionPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, user_id, channel, thread_id, title, metadata, created_at, updated_at
			 FROM agent_sessions
			 WHERE user_id = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			userID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, user_id, channel, thread_id, title, metadata, created_at, updated_at
			 FROM agent_sessions
			 WHERE user_id = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			userID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanSessionRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return &service.SessionPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// Touch updates a session's updated_at timestamp.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE agent_sessions SET updated_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// UpdateTitle sets a session's title.
func (r *SessionRepository) UpdateTitle(ctx context.Context, id, title string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE agent_sessions SET title = $1 WHERE id = $2`,
		title, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) InsertMessage(ctx context.Context, m *domain.Message) error {
	var toolCalls any
	if len(m.ToolCalls) > 0 {
		toolCalls = m.ToolCalls
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO agent_messages (id, session_id, role, content, tool_calls, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SessionID, m.Role, m.Content, toolCalls, m.Metadata, m.CreatedAt,
	)
	return err
}

// InsertMessages appends several messages in order. Used for whole turns;
// inserts are sequential, not transactional.
func (r *SessionRepository) InsertMessages(ctx context.Context, messages []*domain.Message) error {
	for _, m := range messages {
		if err := r.InsertMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// ListMessages returns a session's messages in creation order, oldest first.
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, role, content, tool_calls, metadata, created_at
		 FROM agent_messages
		 WHERE session_id = $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ToolCalls, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var threadID, title *string
	if err := row.Scan(&s.ID, &s.UserID, &s.Channel, &threadID, &title, &s.Metadata, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if threadID != nil {
		s.ThreadID = *threadID
	}
	if title != nil {
		s.Title = *title
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*domain.Session, error) {
	var results []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, rows.Err()
}
