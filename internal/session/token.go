package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"schoolgate.org/internal/identity"
)

const issuer = "schoolgate"

// Claims are the signed token payload. Expiry mirrors the server-side record.
type Claims struct {
	Role     string `json:"role"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies session tokens with HS256. The secret is
// supplied explicitly at construction; there is no lazily-loaded global.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

func NewTokenSigner(secret string, now func() time.Time) (*TokenSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session: token secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenSigner{secret: []byte(secret), now: now}, nil
}

// Sign issues a token for the identity with the given absolute expiry.
func (s *TokenSigner) Sign(id *identity.Identity, issuedAt, expiresAt time.Time) (string, error) {
	if id == nil || strings.TrimSpace(id.ID) == "" {
		return "", errors.New("session: identity is required")
	}
	if !expiresAt.After(issuedAt) {
		return "", errors.New("session: expiry must follow issued-at")
	}
	claims := Claims{
		Role:     string(id.Role),
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse verifies the signature and structural claims. Any failure collapses
// to ErrInvalid.
func (s *TokenSigner) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if err := s.validateClaims(claims); err != nil {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (s *TokenSigner) validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return errors.New("unexpected issuer")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if _, err := identity.ParseRole(claims.Role); err != nil {
		return err
	}
	now := s.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// HashToken derives the storage key mirrored rows are looked up by. Raw
// bearer tokens never hit the database.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
