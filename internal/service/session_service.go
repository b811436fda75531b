package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-platform/internal/auth"
	"github.com/spec-kit/ticket-platform/internal/repository"
	"github.com/spec-kit/ticket-platform/pkg/util"
)

// SessionService mints dashboard sessions. Staff log in with email and
// password; the resulting JWT is how HUMAN_VIA_WEB actors come to exist.
type SessionService struct {
	identities repository.IdentityRepository
	tokens     *auth.TokenManager
}

// NewSessionService constructs the service.
func NewSessionService(identities repository.IdentityRepository, tokens *auth.TokenManager) *SessionService {
	return &SessionService{identities: identities, tokens: tokens}
}

// Login verifies credentials and issues a session token.
func (s *SessionService) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", time.Time{}, util.NewValidationError("email and password are required", nil)
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, util.NewUnauthorized("invalid credentials")
		}
		return "", time.Time{}, err
	}
	if identity.PasswordHash == nil {
		return "", time.Time{}, util.NewUnauthorized("invalid credentials")
	}
	if err := auth.VerifyPassword(*identity.PasswordHash, password); err != nil {
		return "", time.Time{}, util.NewUnauthorized("invalid credentials")
	}

	return s.tokens.GenerateSession(identity.ID, identity.TenantID)
}

// TokenManager exposes the manager for middleware wiring.
func (s *SessionService) TokenManager() *auth.TokenManager {
	return s.tokens
}
