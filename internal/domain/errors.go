package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUpstream         = "UPSTREAM_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrEmptyMessages        = NewDomainError(ErrCodeValidation, "messages array is required")
	ErrInvalidChannel       = NewDomainError(ErrCodeValidation, "invalid session channel")
	ErrInvalidRole          = NewDomainError(ErrCodeValidation, "invalid message role")
	ErrEmptySource          = NewDomainError(ErrCodeValidation, "knowledge source tag cannot be empty")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrKnowledgeNotFound = NewDomainError(ErrCodeNotFound, "knowledge document not found")
	ErrSessionNotFound   = NewDomainError(ErrCodeNotFound, "session not found")
	ErrProfileNotFound   = NewDomainError(ErrCodeNotFound, "profile not found")
)

// Authorization errors
var (
	ErrMissingAuthorization = NewDomainError(ErrCodeUnauthorized, "missing authorization")
	ErrInvalidSession       = NewDomainError(ErrCodeUnauthorized, "invalid session")
	ErrTierForbidden        = NewDomainError(ErrCodeForbidden, "caller tier does not permit this operation")
)

// Throttling errors
var (
	ErrRateLimited = NewDomainError(ErrCodeRateLimited, "too many requests")
)

// Operation errors
var (
	ErrContentImmutable = NewDomainError(ErrCodeInvalidOperation, "knowledge content is immutable, only metadata may be edited")
)
