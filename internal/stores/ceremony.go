package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCeremonyNotFound means no ceremony of that kind is open for the
	// user: never begun, already completed, cancelled, or timed out.
	ErrCeremonyNotFound = errors.New("passkey ceremony not found")
	// ErrCeremonyBackend wraps Redis faults.
	ErrCeremonyBackend = errors.New("passkey ceremony backend unavailable")
)

// Ceremony kinds. One slot per user and kind; beginning a new ceremony
// overwrites the old challenge so a challenge is never reused.
const (
	CeremonyRegister = "register"
	CeremonyLogin    = "login"
)

// CeremonyStore keeps serialized WebAuthn session data (the issued
// challenge plus expectations) for the single in-flight ceremony per user.
type CeremonyStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewCeremonyStore creates the store.
func NewCeremonyStore(redisClient redis.UniversalClient, prefix string) *CeremonyStore {
	if prefix == "" {
		prefix = "gk"
	}
	return &CeremonyStore{redis: redisClient, prefix: prefix}
}

func (s *CeremonyStore) key(userID int64, kind string) string {
	return s.prefix + ":pc:" + kind + ":" + strconv.FormatInt(userID, 10)
}

// Save stores the session blob, replacing any open ceremony of this kind.
func (s *CeremonyStore) Save(ctx context.Context, userID int64, kind string, session []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(userID, kind), session, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCeremonyBackend, err)
	}
	return nil
}

// Peek returns the session blob without consuming it.
func (s *CeremonyStore) Peek(ctx context.Context, userID int64, kind string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key(userID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCeremonyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCeremonyBackend, err)
	}
	return data, nil
}

// Take atomically returns and deletes the session blob, closing the
// ceremony. GETDEL guarantees a challenge is consumed at most once.
func (s *CeremonyStore) Take(ctx context.Context, userID int64, kind string) ([]byte, error) {
	data, err := s.redis.GetDel(ctx, s.key(userID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCeremonyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCeremonyBackend, err)
	}
	return data, nil
}

// Clear cancels any open ceremony of the given kind.
func (s *CeremonyStore) Clear(ctx context.Context, userID int64, kind string) error {
	if err := s.redis.Del(ctx, s.key(userID, kind)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCeremonyBackend, err)
	}
	return nil
}
