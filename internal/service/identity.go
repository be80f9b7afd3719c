package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/finclaw/agentd/internal/domain"
)

// IdentityClient verifies a bearer token with the identity provider and
// returns the caller's stable user id.
type IdentityClient interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// HTTPIdentityClient verifies tokens against an external identity endpoint.
type HTTPIdentityClient struct {
	httpClient *http.Client
	verifyURL  string
}

// NewHTTPIdentityClient creates an HTTPIdentityClient for the given verify
// endpoint.
func NewHTTPIdentityClient(verifyURL string) *HTTPIdentityClient {
	return &HTTPIdentityClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		verifyURL:  verifyURL,
	}
}

type verifyResponse struct {
	ID   string `json:"id"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

// VerifyToken calls the identity endpoint with the caller's token. Any
// non-success response means the token is invalid; the caller is treated as
// unauthenticated, never downgraded to a guest.
func (c *HTTPIdentityClient) VerifyToken(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.verifyURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return "", domain.ErrInvalidSession
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode identity response: %w", err)
	}

	id := parsed.ID
	if id == "" {
		id = parsed.User.ID
	}
	if id == "" {
		return "", domain.ErrInvalidSession
	}
	return id, nil
}

// ProfileRepositoryInterface defines the repository interface for profile
// lookup.
type ProfileRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
}

// IdentityService resolves a bearer token to a caller profile.
type IdentityService struct {
	client   IdentityClient
	profiles ProfileRepositoryInterface
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(client IdentityClient, profiles ProfileRepositoryInterface) *IdentityService {
	return &IdentityService{
		client:   client,
		profiles: profiles,
	}
}

// Resolve verifies the token and loads the caller's profile. A verified
// caller with no profile row gets the default role; access decisions then
// fail closed to the portal tier rather than granting internal access.
func (s *IdentityService) Resolve(ctx context.Context, token string) (*domain.Profile, error) {
	if token == "" {
		return nil, domain.ErrMissingAuthorization
	}

	userID, err := s.client.VerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSession) {
			return nil, err
		}
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeUnauthorized, "identity verification failed", err)
	}

	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return &domain.Profile{ID: userID, Role: domain.RoleDefault}, nil
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile.Role == "" {
		profile.Role = domain.RoleDefault
	}
	return profile, nil
}
