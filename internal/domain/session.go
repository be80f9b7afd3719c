package domain

import (
	"encoding/json"
	"time"
)

// SessionChannel identifies the surface a session was opened from
type SessionChannel string

const (
	ChannelWeb    SessionChannel = "web"
	ChannelAPI    SessionChannel = "api"
	ChannelPublic SessionChannel = "public"
	ChannelOther  SessionChannel = "other"
)

// MessageRole identifies the author of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Profile roles
const (
	RoleAdmin   = "admin"
	RoleDefault = "user"
)

// Session represents a conversation session. Sessions are owned by the user
// who created them; a session id presented by a non-owning caller must never
// be returned.
type Session struct {
	ID        string
	UserID    string
	Channel   SessionChannel
	ThreadID  string
	Title     string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToolCall records one tool invocation made by the model during a turn
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
}

// Message represents one message in a session. Messages are append-only and
// ordered by creation time ascending.
type Message struct {
	ID        string
	SessionID string
	Role      MessageRole
	Content   string
	ToolCalls []ToolCall
	Metadata  map[string]any
	CreatedAt time.Time
}

// Profile represents a caller identity resolved from the identity service
// plus the profiles table.
type Profile struct {
	ID       string
	FullName string
	Email    string
	Role     string
}

// NewSession creates a new Session instance
func NewSession(id, userID string, channel SessionChannel, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Channel:   channel,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateSession validates a Session instance
func ValidateSession(s *Session) error {
	if s == nil {
		return NewDomainError(ErrCodeValidation, "session cannot be nil")
	}
	if s.ID == "" {
		return NewDomainError(ErrCodeValidation, "session ID is required")
	}
	if s.UserID == "" {
		return NewDomainError(ErrCodeValidation, "session UserID is required")
	}
	if !IsValidChannel(s.Channel) {
		return ErrInvalidChannel
	}
	return nil
}

// ValidateMessage validates a Message instance
func ValidateMessage(m *Message) error {
	if m == nil {
		return NewDomainError(ErrCodeValidation, "message cannot be nil")
	}
	if m.ID == "" {
		return NewDomainError(ErrCodeValidation, "message ID is required")
	}
	if m.SessionID == "" {
		return NewDomainError(ErrCodeValidation, "message SessionID is required")
	}
	if !IsValidRole(m.Role) {
		return ErrInvalidRole
	}
	return nil
}

// IsValidChannel checks if a SessionChannel is valid
func IsValidChannel(c SessionChannel) bool {
	switch c {
	case ChannelWeb, ChannelAPI, ChannelPublic, ChannelOther:
		return true
	}
	return false
}

// IsValidRole checks if a MessageRole is valid
func IsValidRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}
