package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func TestHashRoundTrip(t *testing.T) {
	h := testHasher(t)

	digest, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$") {
		t.Fatalf("unexpected digest format: %s", digest)
	}
	if !h.Verify("correct horse battery staple", digest) {
		t.Fatal("expected matching secret to verify")
	}
	if h.Verify("wrong", digest) {
		t.Fatal("expected mismatched secret to fail")
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	h := testHasher(t)

	a, err := h.Hash("secret-value-1")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("secret-value-1")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct digests for identical inputs")
	}
}

func TestVerifyMalformedDigestReturnsFalse(t *testing.T) {
	h := testHasher(t)

	for _, digest := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=8192,t=1,p=1$notbase64!!$notbase64!!",
		"$bcrypt$v=19$m=8192,t=1,p=1$AAAA$BBBB",
		"$argon2id$v=18$m=8192,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
		"$argon2id$v=19$m=0,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
	} {
		if h.Verify("anything", digest) {
			t.Fatalf("expected false for malformed digest %q", digest)
		}
	}
}

func TestNewHasherRejectsWeakConfig(t *testing.T) {
	if _, err := NewHasher(Config{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatal("expected rejection of low memory cost")
	}
	if _, err := NewHasher(Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32}); err == nil {
		t.Fatal("expected rejection of short salt")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := testHasher(t)
	digest, err := weak.Hash("some-long-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	strong, err := NewHasher(Config{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	if weak.NeedsRehash(digest) {
		t.Fatal("expected digest at current cost to pass")
	}
	if !strong.NeedsRehash(digest) {
		t.Fatal("expected weaker digest to need rehash")
	}
	if !strong.NeedsRehash("garbage") {
		t.Fatal("expected malformed digest to need rehash")
	}
}
