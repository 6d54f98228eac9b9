package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
)

const defaultCacheTTL = time.Hour

// Service is the identity collaborator the chat core consumes. It holds
// the current bearer token and derives the current user from the
// token's claims. Verification is the backend's job; the client only
// needs the subject and username, so the token is parsed unverified.
//
// SetToken may be called at any time with a refreshed token; callers
// fetching the token per call pick the new one up automatically.
type Service struct {
	mu    sync.RWMutex
	token string

	// Parsed claims per token. Tokens age out so a long-running client
	// does not accumulate every refresh it has ever seen.
	users geche.Geche[string, models.User]
}

func NewService(ctx context.Context) *Service {
	return &Service{
		users: geche.NewMapTTLCache[string, models.User](ctx, defaultCacheTTL, time.Minute),
	}
}

// SetToken swaps the current bearer token.
func (s *Service) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// GetAccessToken returns the current bearer token, empty when logged out.
func (s *Service) GetAccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// GetCurrentUserValue returns the authenticated user, or nil when no
// token is set or the token carries no usable identity.
func (s *Service) GetCurrentUserValue() *models.User {
	token := s.GetAccessToken()
	if token == "" {
		return nil
	}

	if user, err := s.users.Get(token); err == nil {
		return &user
	}

	user, ok := parseUser(token)
	if !ok {
		return nil
	}

	s.users.Set(token, user)
	return &user
}

func parseUser(token string) (models.User, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		slog.Debug("failed to parse access token", "error", err)
		return models.User{}, false
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return models.User{}, false
	}

	userName, _ := claims["preferred_username"].(string)
	if userName == "" {
		userName, _ = claims["name"].(string)
	}

	return models.User{ID: sub, UserName: userName}, true
}
