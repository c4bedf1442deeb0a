// Package service authenticates back-office operators.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	userdomain "kallied-admin/backend/internal/user/domain"
)

// ErrInvalidCredentials is returned for unknown emails, wrong passwords and disabled accounts alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthResult holds the outcome of Login.
type AuthResult struct {
	AccessToken string
	ExpiresAt   time.Time
	UserID      string
	Role        string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Update(ctx context.Context, u *userdomain.User) error
}

// PasswordHasher verifies and, when the cost changes, refreshes stored hashes.
type PasswordHasher interface {
	Hash(password []byte) (string, error)
	Compare(hash string, password []byte) error
	NeedsRehash(hash string) bool
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	IssueAccess(userID, role string) (string, time.Time, error)
}

// AuthService implements password login.
type AuthService struct {
	userRepo UserRepo
	hasher   PasswordHasher
	tokens   TokenIssuer
	logger   *zap.Logger
}

// NewAuthService returns an AuthService with the given dependencies. logger may be nil.
func NewAuthService(userRepo UserRepo, hasher PasswordHasher, tokens TokenIssuer, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{userRepo: userRepo, hasher: hasher, tokens: tokens, logger: logger}
}

// Login authenticates with email and password and returns an access token carrying the user's role.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}
	token, exp, err := s.tokens.IssueAccess(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &AuthResult{AccessToken: token, ExpiresAt: exp, UserID: user.ID, Role: string(user.Role)}, nil
}

// rehash upgrades the stored hash to the current cost. Failure leaves the old hash in place.
func (s *AuthService) rehash(ctx context.Context, user *userdomain.User, password string) {
	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		s.logger.Warn("auth: rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = hash
	if err := s.userRepo.Update(ctx, user); err != nil {
		s.logger.Warn("auth: store rehash failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}
