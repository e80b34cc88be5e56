package stores

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCodeNotFound means no code is pending for the user: never issued,
	// already consumed, or expired out of Redis.
	ErrCodeNotFound = errors.New("email code not found")
	// ErrCodeMismatch means a code is pending but the submission differs.
	ErrCodeMismatch = errors.New("email code mismatch")
	// ErrCodeBackend wraps Redis faults.
	ErrCodeBackend = errors.New("email code backend unavailable")
)

// EmailCodeStore keeps the SHA-256 hash of the latest issued code per user.
// Save overwrites unconditionally: only the most recent code is ever valid.
type EmailCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewEmailCodeStore creates the store.
func NewEmailCodeStore(redisClient redis.UniversalClient, prefix string) *EmailCodeStore {
	if prefix == "" {
		prefix = "gk"
	}
	return &EmailCodeStore{redis: redisClient, prefix: prefix}
}

func (s *EmailCodeStore) key(userID int64) string {
	return s.prefix + ":ec:" + strconv.FormatInt(userID, 10)
}

// Save stores the code hash with the given lifetime, replacing any pending
// code for the user.
func (s *EmailCodeStore) Save(ctx context.Context, userID int64, code string, ttl time.Duration) error {
	sum := sha256.Sum256([]byte(code))
	if err := s.redis.Set(ctx, s.key(userID), sum[:], ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return nil
}

// Consume validates the submission against the pending code. On match the
// code is deleted immediately so it cannot be replayed; on mismatch it
// stays pending. Comparison is constant-time over the hashes.
func (s *EmailCodeStore) Consume(ctx context.Context, userID int64, submitted string) error {
	stored, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}

	sum := sha256.Sum256([]byte(submitted))
	if subtle.ConstantTimeCompare(stored, sum[:]) != 1 {
		return ErrCodeMismatch
	}

	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return nil
}

// Clear drops any pending code for the user.
func (s *EmailCodeStore) Clear(ctx context.Context, userID int64) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return nil
}
