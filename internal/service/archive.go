package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finclaw/agentd/internal/domain"
)

// ArchiveStorage is the object store used for transcript archives.
type ArchiveStorage interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
}

// SessionReader is the slice of the session service the archiver needs.
type SessionReader interface {
	Get(ctx context.Context, sessionID, userID string) (*domain.Session, error)
	LoadMessages(ctx context.Context, sessionID string, limit int) []*domain.Message
}

// ArchiveService exports session transcripts to object storage.
type ArchiveService struct {
	storage  ArchiveStorage
	sessions SessionReader
	now      func() time.Time
}

// NewArchiveService creates a new ArchiveService.
func NewArchiveService(storage ArchiveStorage, sessions SessionReader) *ArchiveService {
	return &ArchiveService{
		storage:  storage,
		sessions: sessions,
		now:      nowUTC,
	}
}

type transcriptMessage struct {
	Role      domain.MessageRole `json:"role"`
	Content   string             `json:"content"`
	ToolCalls []domain.ToolCall  `json:"tool_calls,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type transcript struct {
	SessionID  string              `json:"session_id"`
	UserID     string              `json:"user_id"`
	Channel    string              `json:"channel"`
	Title      string              `json:"title,omitempty"`
	ExportedAt time.Time           `json:"exported_at"`
	Messages   []transcriptMessage `json:"messages"`
}

// archiveHistoryLimit caps how much history one export carries.
const archiveHistoryLimit = 1000

// Export writes a session's transcript to object storage and returns a
// presigned download URL. The session lookup is scoped to the requesting
// user, so a caller can only export sessions they own.
func (s *ArchiveService) Export(ctx context.Context, sessionID, userID string) (string, error) {
	session, err := s.sessions.Get(ctx, sessionID, userID)
	if err != nil {
		return "", err
	}

	messages := s.sessions.LoadMessages(ctx, session.ID, archiveHistoryLimit)

	doc := transcript{
		SessionID:  session.ID,
		UserID:     session.UserID,
		Channel:    string(session.Channel),
		Title:      session.Title,
		ExportedAt: s.now(),
		Messages:   make([]transcriptMessage, 0, len(messages)),
	}
	for _, m := range messages {
		doc.Messages = append(doc.Messages, transcriptMessage{
			Role:      m.Role,
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
			CreatedAt: m.CreatedAt,
		})
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}

	key := fmt.Sprintf("transcripts/%s/%s.json", session.UserID, session.ID)
	if err := s.storage.PutObject(ctx, key, "application/json", payload); err != nil {
		return "", fmt.Errorf("failed to archive transcript: %w", err)
	}

	url, err := s.storage.GenerateDownloadURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to presign transcript: %w", err)
	}
	return url, nil
}
