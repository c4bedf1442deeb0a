// Package service holds the user mutations that run behind the confirmation gate.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kallied-admin/backend/internal/gate"
	gatedomain "kallied-admin/backend/internal/gate/domain"
	"kallied-admin/backend/internal/security"
	"kallied-admin/backend/internal/user/domain"
	userrepo "kallied-admin/backend/internal/user/repository"
)

// Sentinel errors for user actions; handlers and the gate surface them wrapped in gate.ErrExecutionFailed.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidPayload = errors.New("invalid action payload")
	ErrNoChange       = errors.New("user already in requested state")
)

// PasswordHasher hashes initial passwords for created users.
type PasswordHasher interface {
	Hash(password []byte) (string, error)
}

// Notifier is told about every committed user change.
type Notifier interface {
	UserCreated(ctx context.Context, u *domain.User)
	UserUpdated(ctx context.Context, u *domain.User)
}

// Actions implements the gated user executors.
type Actions struct {
	repo          userrepo.Repository
	hasher        PasswordHasher
	notifier      Notifier
	accessChanged func(userID string)
	now           func() time.Time
}

// NewActions returns user executors backed by repo. hasher and notifier may be nil.
func NewActions(repo userrepo.Repository, hasher PasswordHasher, notifier Notifier) *Actions {
	return &Actions{repo: repo, hasher: hasher, notifier: notifier, now: func() time.Time { return time.Now().UTC() }}
}

// OnAccessChanged sets fn to run after a user is disabled or moved to another role, so
// per-user server state (such as that user's own gate) can be dropped.
func (a *Actions) OnAccessChanged(fn func(userID string)) {
	a.accessChanged = fn
}

// Register binds every user action kind in reg. Kinds with a payload are vetted when requested.
func (a *Actions) Register(reg *gate.Registry) {
	reg.Register(gatedomain.ActionCreateUser, vetted{a.CreateUser, validateCreate})
	reg.Register(gatedomain.ActionEditUser, vetted{a.EditUser, validateEdit})
	reg.Register(gatedomain.ActionDisableUser, gate.ExecutorFunc(a.DisableUser))
	reg.Register(gatedomain.ActionEnableUser, gate.ExecutorFunc(a.EnableUser))
	reg.Register(gatedomain.ActionChangeRole, vetted{a.ChangeRole, validateRole})
}

// vetted is an executor whose payload is checked before a code is issued.
type vetted struct {
	run   gate.ExecutorFunc
	check func(gatedomain.PendingAction) error
}

func (v vetted) Execute(ctx context.Context, action gatedomain.PendingAction) error {
	return v.run(ctx, action)
}

func (v vetted) Validate(action gatedomain.PendingAction) error {
	return v.check(action)
}

type createPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

func validateCreate(action gatedomain.PendingAction) error {
	_, _, err := parseCreate(action.Payload, time.Time{})
	return err
}

// parseCreate builds the user described by a create payload, returning the plaintext password.
func parseCreate(raw json.RawMessage, now time.Time) (*domain.User, string, error) {
	var p createPayload
	if err := decode(raw, &p); err != nil {
		return nil, "", err
	}
	role := domain.RoleStaff
	if p.Role != "" {
		r, ok := domain.ParseRole(p.Role)
		if !ok {
			return nil, "", fmt.Errorf("%w: unknown role %q", ErrInvalidPayload, p.Role)
		}
		role = r
	}
	u := &domain.User{
		Email:     p.Email,
		Name:      p.Name,
		Phone:     strings.TrimSpace(p.Phone),
		Role:      role,
		Status:    domain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Password != "" && len(p.Password) < security.MinPasswordLength {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidPayload, security.ErrPasswordTooShort)
	}
	return u, p.Password, nil
}

// CreateUser adds the user described by the payload.
func (a *Actions) CreateUser(ctx context.Context, action gatedomain.PendingAction) error {
	u, password, err := parseCreate(action.Payload, a.now())
	if err != nil {
		return err
	}
	u.ID = uuid.New().String()
	if password != "" {
		if a.hasher == nil {
			return errors.New("password hashing is not configured")
		}
		hash, err := a.hasher.Hash([]byte(password))
		if errors.Is(err, security.ErrPasswordTooShort) {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}
	if err := a.repo.Create(ctx, u); err != nil {
		return err
	}
	if a.notifier != nil {
		a.notifier.UserCreated(ctx, u)
	}
	return nil
}

type editPayload struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

func parseEdit(raw json.RawMessage) (editPayload, error) {
	var p editPayload
	if err := decode(raw, &p); err != nil {
		return p, err
	}
	if p.Name == nil && p.Email == nil && p.Phone == nil {
		return p, fmt.Errorf("%w: nothing to edit", ErrInvalidPayload)
	}
	return p, nil
}

// apply sets the non-nil fields on u and validates the result.
func (p editPayload) apply(u *domain.User) error {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = strings.TrimSpace(*p.Phone)
	}
	if err := u.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func validateEdit(action gatedomain.PendingAction) error {
	p, err := parseEdit(action.Payload)
	if err != nil {
		return err
	}
	// the stored user is not loaded here; validate the edited fields against placeholders
	return p.apply(&domain.User{Name: "placeholder", Email: "placeholder@kallied.com"})
}

// EditUser applies the non-nil payload fields to the target user.
func (a *Actions) EditUser(ctx context.Context, action gatedomain.PendingAction) error {
	p, err := parseEdit(action.Payload)
	if err != nil {
		return err
	}
	return a.mutate(ctx, action.TargetID, p.apply)
}

// DisableUser marks the target user disabled.
func (a *Actions) DisableUser(ctx context.Context, action gatedomain.PendingAction) error {
	if err := a.setStatus(ctx, action.TargetID, domain.UserStatusDisabled); err != nil {
		return err
	}
	a.revoke(action.TargetID)
	return nil
}

// EnableUser re-activates the target user.
func (a *Actions) EnableUser(ctx context.Context, action gatedomain.PendingAction) error {
	return a.setStatus(ctx, action.TargetID, domain.UserStatusActive)
}

type rolePayload struct {
	Role string `json:"role"`
}

func parseRole(raw json.RawMessage) (domain.Role, error) {
	var p rolePayload
	if err := decode(raw, &p); err != nil {
		return "", err
	}
	role, ok := domain.ParseRole(p.Role)
	if !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidPayload, p.Role)
	}
	return role, nil
}

func validateRole(action gatedomain.PendingAction) error {
	_, err := parseRole(action.Payload)
	return err
}

// ChangeRole assigns the payload role to the target user.
func (a *Actions) ChangeRole(ctx context.Context, action gatedomain.PendingAction) error {
	role, err := parseRole(action.Payload)
	if err != nil {
		return err
	}
	err = a.mutate(ctx, action.TargetID, func(u *domain.User) error {
		if u.Role == role {
			return ErrNoChange
		}
		u.Role = role
		return nil
	})
	if err != nil {
		return err
	}
	a.revoke(action.TargetID)
	return nil
}

func (a *Actions) revoke(userID string) {
	if a.accessChanged != nil {
		a.accessChanged(userID)
	}
}

func (a *Actions) setStatus(ctx context.Context, id string, status domain.UserStatus) error {
	return a.mutate(ctx, id, func(u *domain.User) error {
		if u.Status == status {
			return ErrNoChange
		}
		u.Status = status
		return nil
	})
}

func (a *Actions) mutate(ctx context.Context, id string, apply func(*domain.User) error) error {
	u, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err := apply(u); err != nil {
		return err
	}
	u.UpdatedAt = a.now()
	if err := a.repo.Update(ctx, u); err != nil {
		return err
	}
	if a.notifier != nil {
		a.notifier.UserUpdated(ctx, u)
	}
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
