package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Identity is what a validated access token asserts about its bearer.
type Identity struct {
	UserID string
	Role   string
	JTI    string
}

// TokenProvider issues and validates JWT access tokens using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on every access token.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IssueAccess issues a short-lived access JWT for the user and role.
// Returns the token string and its expiration time.
func (p *TokenProvider) IssueAccess(userID, role string) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
func (p *TokenProvider) ValidateAccess(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Role: claims.Role, JTI: claims.ID}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
