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
	// ErrPendingNotFound means the challenge is unknown or already consumed.
	ErrPendingNotFound = errors.New("pending login not found")
	// ErrPendingExpired means the challenge window closed.
	ErrPendingExpired = errors.New("pending login expired")
	// ErrPendingExceeded means the attempt cap was reached; the record is
	// gone and the user must restart the login.
	ErrPendingExceeded = errors.New("pending login attempts exceeded")
	// ErrPendingBackend wraps Redis faults.
	ErrPendingBackend = errors.New("pending login backend unavailable")
)

// PendingLogin is a half-authenticated login: credentials were accepted and
// a second-factor proof is outstanding.
type PendingLogin struct {
	UserID    int64  `json:"uid"`
	Factor    string `json:"factor"`
	Origin    string `json:"origin,omitempty"`
	ExpiresAt int64  `json:"exp"`
	Attempts  uint16 `json:"attempts"`
}

// PendingLoginStore keeps pending logins keyed by an opaque challenge ID.
type PendingLoginStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewPendingLoginStore creates the store.
func NewPendingLoginStore(redisClient redis.UniversalClient, prefix string) *PendingLoginStore {
	if prefix == "" {
		prefix = "gk"
	}
	return &PendingLoginStore{redis: redisClient, prefix: prefix}
}

func (s *PendingLoginStore) key(challengeID string) string {
	return s.prefix + ":pl:" + challengeID
}

// Save stores the record under the challenge ID with the given lifetime.
func (s *PendingLoginStore) Save(ctx context.Context, challengeID string, record *PendingLogin, ttl time.Duration) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return nil
}

// Get loads the record, expiring it if its deadline passed.
func (s *PendingLoginStore) Get(ctx context.Context, challengeID string) (*PendingLogin, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}

	var record PendingLogin
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrPendingExpired
	}
	return &record, nil
}

// Delete removes the record and reports whether it existed. The boolean
// guards against a concurrent consumer completing the same challenge.
func (s *PendingLoginStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter atomically. When the cap is
// reached the record is deleted and exceeded=true is returned.
func (s *PendingLoginStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (exceeded bool, err error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var record PendingLogin
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrPendingExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := json.Marshal(&record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrPendingNotFound
			}
			if errors.Is(err, ErrPendingExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrPendingBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrPendingNotFound
}
