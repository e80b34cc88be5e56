package metrics

import (
	"sync"
	"testing"
)

func TestIncAndSnapshot(t *testing.T) {
	r := NewRegistry(true)

	r.Inc(LoginSuccess)
	r.Inc(LoginSuccess)
	r.Inc(CaptchaRejected)

	snap := r.Snapshot()
	if snap["login_success"] != 2 {
		t.Fatalf("login_success = %d, want 2", snap["login_success"])
	}
	if snap["captcha_rejected"] != 1 {
		t.Fatalf("captcha_rejected = %d, want 1", snap["captcha_rejected"])
	}
	if snap["factor_failure"] != 0 {
		t.Fatalf("factor_failure = %d, want 0", snap["factor_failure"])
	}
}

func TestDisabledRegistryIsNoOp(t *testing.T) {
	r := NewRegistry(false)
	if r != nil {
		t.Fatal("expected nil registry when disabled")
	}

	r.Inc(LoginSuccess) // must not panic
	if got := r.Get(LoginSuccess); got != 0 {
		t.Fatalf("Get on nil registry = %d, want 0", got)
	}
	if snap := r.Snapshot(); snap["login_success"] != 0 {
		t.Fatalf("Snapshot on nil registry = %v", snap)
	}
}

func TestConcurrentInc(t *testing.T) {
	r := NewRegistry(true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Inc(FactorSuccess)
			}
		}()
	}
	wg.Wait()

	if got := r.Get(FactorSuccess); got != 5000 {
		t.Fatalf("FactorSuccess = %d, want 5000", got)
	}
}
