package gatekit

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// mockUsers is an in-memory UserProvider. Records are copied on read so a
// test sees engine-driven mutations only through the provider methods.
type mockUsers struct {
	mu   sync.Mutex
	byID map[int64]*UserRecord
}

func newMockUsers(records ...*UserRecord) *mockUsers {
	m := &mockUsers{byID: make(map[int64]*UserRecord)}
	for _, r := range records {
		m.byID[r.ID] = r
	}
	return m
}

func cloneUser(u *UserRecord) *UserRecord {
	out := *u
	out.Credentials = append([]CredentialRecord(nil), u.Credentials...)
	return &out
}

func (m *mockUsers) GetUserByUsername(_ context.Context, username string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockUsers) GetUserByEmail(_ context.Context, email string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockUsers) GetUserByID(_ context.Context, id int64) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return cloneUser(u), nil
	}
	return nil, ErrUserNotFound
}

func (m *mockUsers) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	return m.update(id, func(u *UserRecord) { u.PasswordHash = hash })
}

func (m *mockUsers) SetActiveFactor(_ context.Context, id int64, factor FactorType, chosen bool) error {
	return m.update(id, func(u *UserRecord) {
		u.ActiveFactor = factor
		u.FactorChosen = chosen
	})
}

func (m *mockUsers) SetTOTPSecret(_ context.Context, id int64, secret string) error {
	return m.update(id, func(u *UserRecord) { u.TOTPSecret = secret })
}

func (m *mockUsers) AddCredential(_ context.Context, id int64, cred CredentialRecord) error {
	return m.update(id, func(u *UserRecord) { u.Credentials = append(u.Credentials, cred) })
}

func (m *mockUsers) UpdateCredentialSignCount(_ context.Context, id int64, credentialID []byte, signCount uint32, usedAt time.Time) error {
	return m.update(id, func(u *UserRecord) {
		for i := range u.Credentials {
			if bytes.Equal(u.Credentials[i].CredentialID, credentialID) {
				u.Credentials[i].SignCount = signCount
				u.Credentials[i].LastUsedAt = usedAt
			}
		}
	})
}

func (m *mockUsers) RemoveCredentials(_ context.Context, id int64) error {
	return m.update(id, func(u *UserRecord) { u.Credentials = nil })
}

func (m *mockUsers) SetAccountActive(_ context.Context, id int64, active bool) error {
	return m.update(id, func(u *UserRecord) {
		u.Active = active
		if active {
			u.BannedUntil = time.Time{}
		}
	})
}

func (m *mockUsers) StampLastLogin(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(u *UserRecord) { u.LastLoginAt = at })
}

func (m *mockUsers) update(id int64, fn func(*UserRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *mockUsers) get(t *testing.T, id int64) *UserRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		t.Fatalf("no user %d in mock", id)
	}
	return cloneUser(u)
}

// fakeMail records outbound mail and can be told to fail.
type fakeMail struct {
	mu   sync.Mutex
	sent []sentMail
	fail error
}

type sentMail struct {
	to, subject, body string
}

func (f *fakeMail) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeMail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMail) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no mail was sent")
	}
	return f.sent[len(f.sent)-1]
}

// fakeResetFlags is an in-memory ResetFlagStore.
type fakeResetFlags struct {
	mu      sync.Mutex
	pending []string
}

func (f *fakeResetFlags) Pending(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pending...), nil
}

func (f *fakeResetFlags) Consume(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.pending {
		if p == username {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return nil
		}
	}
	return errors.New("flag not pending")
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// testConfig lowers argon2 to the hardening floor so tests stay fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.SigningKey = bytes.Repeat([]byte("k"), 32)
	return cfg
}

func testSettings() Settings {
	return Settings{
		EmailFactorEnabled: true,
		LockoutThreshold:   5,
		LockoutDuration:    15 * time.Minute,
		CaptchaThreshold:   3,
	}
}

type testEnv struct {
	engine *Engine
	users  *mockUsers
	mail   *fakeMail
	flags  *fakeResetFlags
	redis  *miniredis.Miniredis
}

func newTestEngine(t *testing.T, records ...*UserRecord) *testEnv {
	t.Helper()

	mr, client := newTestRedis(t)
	users := newMockUsers(records...)
	mail := &fakeMail{}
	flags := &fakeResetFlags{}

	engine, err := NewBuilder().
		WithConfig(testConfig()).
		WithRedis(client).
		WithUserProvider(users).
		WithMailDispatcher(mail).
		WithResetFlags(flags).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, users: users, mail: mail, flags: flags, redis: mr}
}

// addUser seeds an active account with the given password already hashed.
func (env *testEnv) addUser(t *testing.T, id int64, username, email, plaintext string) *UserRecord {
	t.Helper()
	hash, err := env.engine.hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	u := &UserRecord{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		ActiveFactor: FactorNone,
		Active:       true,
	}
	env.users.mu.Lock()
	env.users.byID[id] = u
	env.users.mu.Unlock()
	return u
}
