package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Config carries argon2id cost parameters (memory in KB).
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives and checks argon2id digests. Instances are immutable and
// safe for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates the cost floor and returns a Hasher. Cost parameters
// may be raised above the floor, never lowered below it.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < 8*1024:
		return nil, errors.New("argon2 memory must be >= 8192 KB")
	case cfg.Time < 1:
		return nil, errors.New("argon2 time must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("argon2 parallelism must be >= 1")
	case cfg.SaltLength < 16:
		return nil, errors.New("argon2 salt length must be >= 16")
	case cfg.KeyLength < 16:
		return nil, errors.New("argon2 key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a fresh salted digest in PHC format:
//
//	$argon2id$v=19$m=65536,t=2,p=2$<salt>$<hash>
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(secret),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches the stored digest. Malformed
// digests verify as false; they never raise.
func (h *Hasher) Verify(secret, digest string) bool {
	memory, timeCost, parallelism, salt, stored, ok := parsePHC(digest)
	if !ok {
		return false
	}

	computed := argon2.IDKey([]byte(secret), salt, timeCost, memory, parallelism, uint32(len(stored)))
	return subtle.ConstantTimeCompare(computed, stored) == 1
}

// NeedsRehash reports whether the digest was produced with weaker
// parameters than the hasher currently runs with.
func (h *Hasher) NeedsRehash(digest string) bool {
	memory, timeCost, parallelism, _, stored, ok := parsePHC(digest)
	if !ok {
		return true
	}
	return memory < h.config.Memory ||
		timeCost < h.config.Time ||
		parallelism < h.config.Parallelism ||
		uint32(len(stored)) != h.config.KeyLength
}

func parsePHC(digest string) (memory, timeCost uint32, parallelism uint8, salt, hash []byte, ok bool) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, false
	}

	var version int
	if n, err := fmt.Sscanf(parts[2], "v=%d", &version); n != 1 || err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, false
	}

	var m, t uint32
	var p uint8
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); n != 3 || err != nil || m == 0 || t == 0 || p == 0 {
		return 0, 0, 0, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return 0, 0, 0, nil, nil, false
	}

	return m, t, p, salt, hash, true
}
