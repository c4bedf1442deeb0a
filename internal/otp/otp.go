// Package otp generates and compares the numeric one-time passcodes used by the confirmation gate.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"strconv"
)

const (
	// Digits is the fixed length of every generated code.
	Digits = 6

	minCode = 100000
	maxCode = 999999
)

// Generator produces fresh codes. The gate stores whatever it returns; generation has no side effects.
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func() (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate() (string, error) { return f() }

// CryptoGenerator draws codes from crypto/rand.
type CryptoGenerator struct{}

// Generate returns a 6-digit code in [100000, 999999].
func (CryptoGenerator) Generate() (string, error) {
	return Generate()
}

// Generate returns a 6-digit numeric code in [100000, 999999] using crypto/rand.
// The lower bound keeps the code at full length without zero padding.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+minCode, 10), nil
}

// Valid reports whether s has the shape of a generated code.
func Valid(s string) bool {
	if len(s) != Digits {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return n >= minCode && n <= maxCode
}

// Hash returns the hex SHA-256 of code. Only the hash is held while a challenge is outstanding.
func Hash(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// Equal compares code against storedHash in constant time.
func Equal(code, storedHash string) bool {
	if code == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Hash(code)), []byte(storedHash)) == 1
}
