package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func savePending(t *testing.T, s *PendingLoginStore, id string, ttl time.Duration) {
	t.Helper()
	err := s.Save(context.Background(), id, &PendingLogin{
		UserID:    42,
		Factor:    "totp",
		Origin:    "10.0.0.1",
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}, ttl)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestPendingLoginRoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPendingLoginStore(rdb, "t")
	ctx := context.Background()

	savePending(t, s, "ch-1", 5*time.Minute)

	record, err := s.Get(ctx, "ch-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.UserID != 42 || record.Factor != "totp" {
		t.Fatalf("unexpected record: %+v", record)
	}

	deleted, err := s.Delete(ctx, "ch-1")
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got deleted=%v err=%v", deleted, err)
	}
	deleted, err = s.Delete(ctx, "ch-1")
	if err != nil || deleted {
		t.Fatalf("expected second delete to be a no-op, got deleted=%v err=%v", deleted, err)
	}
}

func TestPendingLoginUnknown(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPendingLoginStore(rdb, "t")

	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected ErrPendingNotFound, got %v", err)
	}
}

func TestPendingLoginExpiry(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPendingLoginStore(rdb, "t")
	ctx := context.Background()

	// Embedded deadline in the past; redis TTL still open.
	err := s.Save(ctx, "ch-2", &PendingLogin{
		UserID:    42,
		Factor:    "email",
		ExpiresAt: time.Now().Add(-time.Second).Unix(),
	}, time.Minute)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := s.Get(ctx, "ch-2"); !errors.Is(err, ErrPendingExpired) {
		t.Fatalf("expected ErrPendingExpired, got %v", err)
	}
}

func TestPendingLoginFailureCap(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPendingLoginStore(rdb, "t")
	ctx := context.Background()

	savePending(t, s, "ch-3", 5*time.Minute)

	for i := 0; i < 4; i++ {
		exceeded, err := s.RecordFailure(ctx, "ch-3", 5)
		if err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
		if exceeded {
			t.Fatalf("expected cap not reached at attempt %d", i+1)
		}
	}

	exceeded, err := s.RecordFailure(ctx, "ch-3", 5)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !exceeded {
		t.Fatal("expected cap reached on fifth failure")
	}

	// Record is gone once the cap was hit.
	if _, err := s.Get(ctx, "ch-3"); !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected record removed after cap, got %v", err)
	}
}
