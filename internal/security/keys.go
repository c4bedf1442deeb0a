package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// LoadPEM returns s as PEM bytes when it is inline PEM (literal "\n" sequences from env files are
// expanded), otherwise reads the file at path s.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

func decodeBlock(s string) (*pem.Block, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// ParsePrivateKey parses a PEM-encoded RSA or ECDSA private key. s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if signer, ok := key.(crypto.Signer); ok && KeyAlg(signer.Public()) != "" {
			return signer, nil
		}
	}
	return nil, ErrInvalidKey
}

// ParsePublicKey parses a PEM-encoded RSA or ECDSA public key. s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// LoadKeyPair parses the signing key and, when given, the verification key. With an empty
// publicSpec the public half of the private key is used. The two must use the same algorithm.
func LoadKeyPair(privateSpec, publicSpec string) (crypto.Signer, crypto.PublicKey, error) {
	signer, err := ParsePrivateKey(privateSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("private key: %w", err)
	}
	if strings.TrimSpace(publicSpec) == "" {
		return signer, signer.Public(), nil
	}
	pub, err := ParsePublicKey(publicSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("public key: %w", err)
	}
	if KeyAlg(pub) != KeyAlg(signer.Public()) {
		return nil, nil, fmt.Errorf("%w: private key is %s, public key is %s", ErrInvalidKey, KeyAlg(signer.Public()), KeyAlg(pub))
	}
	return signer, pub, nil
}

// GenerateDevKey returns a throwaway ES256 key for local runs without configured keys.
// Tokens signed with it do not survive a restart.
func GenerateDevKey() (crypto.Signer, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// KeyAlg returns "RS256" for RSA and "ES256" for ECDSA P-256; empty otherwise.
func KeyAlg(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		if k.Curve == elliptic.P256() {
			return "ES256"
		}
	}
	return ""
}
