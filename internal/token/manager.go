// Package token signs and parses session tokens. A token is a compact JWT
// carrying only the session ID and user ID; authority stays with the
// server-side session record the ID points at.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid covers malformed, mis-signed, and expired tokens.
	ErrTokenInvalid = errors.New("invalid session token")
)

// Claims are the decoded contents of a session token.
type Claims struct {
	SessionID string
	UserID    int64
}

// Manager signs HS256 session tokens with a fixed key.
type Manager struct {
	key []byte
}

// NewManager validates the key and returns a Manager.
func NewManager(key []byte) (*Manager, error) {
	if len(key) < 32 {
		return nil, errors.New("token signing key must be >= 32 bytes")
	}
	return &Manager{key: append([]byte(nil), key...)}, nil
}

// Sign issues a token for the session, expiring with it.
func (m *Manager) Sign(sessionID string, userID int64, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sid": sessionID,
		"sub": strconv.FormatInt(userID, 10),
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry and returns the claims.
func (m *Manager) Parse(raw string) (*Claims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	sid, _ := claims["sid"].(string)
	subRaw, _ := claims["sub"].(string)
	uid, convErr := strconv.ParseInt(subRaw, 10, 64)
	if sid == "" || convErr != nil {
		return nil, ErrTokenInvalid
	}
	return &Claims{SessionID: sid, UserID: uid}, nil
}
