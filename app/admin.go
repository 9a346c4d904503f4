package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// ErrBadCredentials is returned for a failed admin login.
var ErrBadCredentials = errors.New("bad credentials")

// AdminService mints and revokes the privileged sessions the bypass path
// validates against.
type AdminService struct {
	sessions     ports.AdminSessionStore
	clock        ports.Clock
	random       ports.Random
	passwordHash []byte // bcrypt hash of the operator password
	sessionTTL   time.Duration
	logger       zerolog.Logger
}

// AdminDeps contains dependencies for AdminService.
type AdminDeps struct {
	Sessions     ports.AdminSessionStore
	Clock        ports.Clock
	Random       ports.Random
	PasswordHash []byte
	SessionTTL   time.Duration
	Logger       zerolog.Logger
}

// NewAdminService creates an admin service.
func NewAdminService(deps AdminDeps) *AdminService {
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminService{
		sessions:     deps.Sessions,
		clock:        deps.Clock,
		random:       deps.Random,
		passwordHash: deps.PasswordHash,
		sessionTTL:   ttl,
		logger:       deps.Logger,
	}
}

// Login checks the operator password and mints a session token. Logins are
// refused outright when no password hash is configured.
func (s *AdminService) Login(ctx context.Context, password string) (string, error) {
	if len(s.passwordHash) == 0 {
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		s.logger.Warn().Msg("admin login rejected")
		return "", ErrBadCredentials
	}

	token, err := s.random.String(48)
	if err != nil {
		return "", fmt.Errorf("mint session token: %w", err)
	}
	token = "admsess_" + token

	now := s.clock.Now()
	session := ports.AdminSession{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	s.logger.Info().Time("expires_at", session.ExpiresAt).Msg("admin session created")
	return token, nil
}

// Logout revokes a session token.
func (s *AdminService) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// PurgeExpired removes lapsed sessions. Called periodically from the serve
// loop.
func (s *AdminService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.clock.Now())
}
