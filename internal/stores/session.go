package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound means the session was never created, expired, or
	// was revoked.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBackend wraps Redis faults.
	ErrSessionBackend = errors.New("session backend unavailable")
)

// Session is the server-side record behind an issued token. The token is
// only as alive as this record: deleting it revokes the token.
type Session struct {
	SessionID string `json:"sid"`
	UserID    int64  `json:"uid"`
	Origin    string `json:"origin,omitempty"`
	CreatedAt int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// SessionStore keeps live sessions keyed by session ID.
type SessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewSessionStore creates the store.
func NewSessionStore(redisClient redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "gk"
	}
	return &SessionStore{redis: redisClient, prefix: prefix}
}

func (s *SessionStore) key(sessionID string) string {
	return s.prefix + ":ss:" + sessionID
}

// Save stores the session with the given lifetime.
func (s *SessionStore) Save(ctx context.Context, session *Session, ttl time.Duration) error {
	encoded, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(session.SessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

// Get loads a live session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if time.Now().Unix() > session.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(sessionID)).Result()
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// Delete revokes the session. Idempotent.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}
