package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/pagination"
)

const (
	// DefaultSessionPageSize caps session listings.
	DefaultSessionPageSize = 20
	// DefaultMessageHistoryLimit caps how many messages are loaded per session.
	DefaultMessageHistoryLimit = 50
)

// SessionPageResult is one page of a user's sessions.
type SessionPageResult struct {
	Items      []*domain.Session
	NextCursor string
	HasMore    bool
}

// SessionRepositoryInterface defines the repository interface for session
// persistence.
type SessionRepositoryInterface interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByIDAndUser(ctx context.Context, id, userID string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*SessionPageResult, error)
	Touch(ctx context.Context, id string, at time.Time) error
	UpdateTitle(ctx context.Context, id, title string) error
	InsertMessage(ctx context.Context, m *domain.Message) error
	InsertMessages(ctx context.Context, messages []*domain.Message) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error)
}

// SessionService owns conversation session lifecycle and message history.
type SessionService struct {
	repo    SessionRepositoryInterface
	uuidGen UUIDGenerator
	now     func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(repo SessionRepositoryInterface, uuidGen UUIDGenerator) *SessionService {
	return &SessionService{
		repo:    repo,
		uuidGen: uuidGen,
		now:     nowUTC,
	}
}

// GetOrCreate resolves the session for a turn. A presented session id is
// looked up scoped to the owning user; an id that does not resolve for this
// user (missing or owned by someone else, the two are indistinguishable)
// falls through to creating a fresh session rather than erroring, so a stale
// client keeps working.
func (s *SessionService) GetOrCreate(ctx context.Context, userID string, channel domain.SessionChannel, sessionID string) (*domain.Session, error) {
	if sessionID != "" {
		existing, err := s.repo.GetByIDAndUser(ctx, sessionID, userID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("failed to look up session: %w", err)
		}
	}

	session := domain.NewSession(s.uuidGen.NewString(), userID, channel, s.now())
	if err := domain.ValidateSession(session); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Append stores one message and bumps the session's recency. The insert is
// authoritative; a failed recency touch is logged and swallowed so the
// message is never lost over a bookkeeping error.
func (s *SessionService) Append(ctx context.Context, sessionID string, role domain.MessageRole, content string, toolCalls []domain.ToolCall) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        s.uuidGen.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		ToolCalls: toolCalls,
		CreatedAt: s.now(),
	}
	if err := domain.ValidateMessage(msg); err != nil {
		return nil, err
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if err := s.repo.Touch(ctx, sessionID, msg.CreatedAt); err != nil {
		log.Printf("session %s: recency touch failed after append: %v", sessionID, err)
	}
	return msg, nil
}

// AppendTurn stores a whole user/assistant exchange, user message first so
// history replays in conversation order. Inserts are sequential, not
// transactional; the same touch caveat as Append applies.
func (s *SessionService) AppendTurn(ctx context.Context, sessionID, userContent, assistantContent string, toolCalls []domain.ToolCall) error {
	at := s.now()
	messages := []*domain.Message{
		{
			ID:        s.uuidGen.NewString(),
			SessionID: sessionID,
			Role:      domain.RoleUser,
			Content:   userContent,
			CreatedAt: at,
		},
		{
			ID:        s.uuidGen.NewString(),
			SessionID: sessionID,
			Role:      domain.RoleAssistant,
			Content:   assistantContent,
			ToolCalls: toolCalls,
			CreatedAt: at.Add(time.Millisecond),
		},
	}
	for _, m := range messages {
		if err := domain.ValidateMessage(m); err != nil {
			return err
		}
	}
	if err := s.repo.InsertMessages(ctx, messages); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	if err := s.repo.Touch(ctx, sessionID, at); err != nil {
		log.Printf("session %s: recency touch failed after turn: %v", sessionID, err)
	}
	return nil
}

// Get returns a session scoped to its owning user.
func (s *SessionService) Get(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	return s.repo.GetByIDAndUser(ctx, sessionID, userID)
}

// List returns a page of the user's sessions, newest first. Listing is a
// read-side convenience, so store failures degrade to an empty page instead
// of surfacing an error.
func (s *SessionService) List(ctx context.Context, userID, cursor string, limit int) *SessionPageResult {
	if limit <= 0 || limit > 100 {
		limit = DefaultSessionPageSize
	}

	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		log.Printf("session list for user %s: ignoring invalid cursor: %v", userID, err)
		decoded = nil
	}

	page, err := s.repo.ListByUser(ctx, userID, decoded, limit)
	if err != nil {
		log.Printf("session list for user %s failed, returning empty page: %v", userID, err)
		return &SessionPageResult{Items: []*domain.Session{}}
	}
	return page
}

// LoadMessages returns a session's history oldest first. Like List, failures
// degrade to empty so a broken read never blocks a conversation.
func (s *SessionService) LoadMessages(ctx context.Context, sessionID string, limit int) []*domain.Message {
	if limit <= 0 {
		limit = DefaultMessageHistoryLimit
	}
	messages, err := s.repo.ListMessages(ctx, sessionID, limit)
	if err != nil {
		log.Printf("message load for session %s failed, returning empty history: %v", sessionID, err)
		return []*domain.Message{}
	}
	return messages
}

// UpdateTitle renames a session.
func (s *SessionService) UpdateTitle(ctx context.Context, sessionID, title string) error {
	if title == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "title cannot be empty")
	}
	return s.repo.UpdateTitle(ctx, sessionID, title)
}
