package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// User is a back-office account managed through the gated user actions.
type User struct {
	ID           string
	Email        string
	Name         string
	Phone        string // optional, E.164 digits
	Role         Role
	Status       UserStatus
	PasswordHash string // bcrypt; empty for accounts that never set a password
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	return s == UserStatusActive || s == UserStatusDisabled
}

// Role is the back-office role that drives what an operator may request.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleStaff   Role = "STAFF"
	RoleClient  Role = "CLIENT"
)

// Roles lists every role in descending privilege.
var Roles = []Role{RoleAdmin, RoleManager, RoleStaff, RoleClient}

// ParseRole normalises s (case-insensitive) to a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	if u.Email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return errors.New("email is invalid")
	}
	if u.Name == "" {
		return errors.New("name is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if !u.Status.Valid() {
		return errors.New("status is invalid")
	}
	if u.Role == "" {
		u.Role = RoleStaff
	}
	if _, ok := ParseRole(string(u.Role)); !ok {
		return errors.New("role is invalid")
	}
	return nil
}

// Filter narrows a user listing. Zero fields match everything.
type Filter struct {
	Query  string // case-insensitive substring of name or email
	Status UserStatus
	Role   Role
	Limit  int
	Offset int
}

// Matches reports whether u passes f, ignoring paging.
func (f Filter) Matches(u *User) bool {
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(u.Name), q) && !strings.Contains(strings.ToLower(u.Email), q) {
			return false
		}
	}
	return true
}

// Stats is the user counts shown on the dashboard tiles.
type Stats struct {
	Total    int                `json:"total"`
	ByStatus map[UserStatus]int `json:"byStatus"`
	ByRole   map[Role]int       `json:"byRole"`
}
