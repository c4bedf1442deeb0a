package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordTooShort is returned by Hash for passwords under MinPasswordLength bytes.
var ErrPasswordTooShort = errors.New("password too short")

// MinPasswordLength is the shortest password accepted for a new account.
const MinPasswordLength = 8

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's range.
// Zero or negative selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash. Returns nil if they match,
// bcrypt.ErrMismatchedHashAndPassword if not, or a parse error for a malformed hash.
func (h *Hasher) Compare(hash string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

// NeedsRehash reports whether hash was produced with a different cost than h's.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.Cost
}
