package stores

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestCeremonyTakeConsumes(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewCeremonyStore(rdb, "t")
	ctx := context.Background()

	blob := []byte(`{"challenge":"abc"}`)
	if err := s.Save(ctx, 9, CeremonyRegister, blob, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Take(ctx, 9, CeremonyRegister)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("unexpected blob: %s", got)
	}

	// The challenge is single-use across ceremonies.
	if _, err := s.Take(ctx, 9, CeremonyRegister); !errors.Is(err, ErrCeremonyNotFound) {
		t.Fatalf("expected ErrCeremonyNotFound on second take, got %v", err)
	}
}

func TestCeremonyKindsAreIndependent(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewCeremonyStore(rdb, "t")
	ctx := context.Background()

	if err := s.Save(ctx, 9, CeremonyRegister, []byte("reg"), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, 9, CeremonyLogin, []byte("login"), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := s.Take(ctx, 9, CeremonyLogin); err != nil {
		t.Fatalf("Take login failed: %v", err)
	}
	if _, err := s.Peek(ctx, 9, CeremonyRegister); err != nil {
		t.Fatalf("expected register ceremony untouched, got %v", err)
	}
}

func TestCeremonyOverwriteAndExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewCeremonyStore(rdb, "t")
	ctx := context.Background()

	if err := s.Save(ctx, 9, CeremonyLogin, []byte("old"), 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, 9, CeremonyLogin, []byte("new"), 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Peek(ctx, 9, CeremonyLogin)
	if err != nil || string(got) != "new" {
		t.Fatalf("expected newest challenge, got %q err=%v", got, err)
	}

	mr.FastForward(6 * time.Minute)
	if _, err := s.Peek(ctx, 9, CeremonyLogin); !errors.Is(err, ErrCeremonyNotFound) {
		t.Fatalf("expected bounded ceremony lifetime, got %v", err)
	}
}

func TestSessionRoundTripAndRevocation(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewSessionStore(rdb, "t")
	ctx := context.Background()

	now := time.Now()
	sess := &Session{
		SessionID: "sid-1",
		UserID:    42,
		Origin:    "10.0.0.1",
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
	if err := s.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != 42 {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := s.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "sid-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after revocation, got %v", err)
	}
}

func TestSessionEmbeddedExpiry(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewSessionStore(rdb, "t")
	ctx := context.Background()

	sess := &Session{
		SessionID: "sid-2",
		UserID:    42,
		CreatedAt: time.Now().Add(-2 * time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}
	if err := s.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := s.Get(ctx, "sid-2"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected embedded deadline honored, got %v", err)
	}
}
