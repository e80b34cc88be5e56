package gatekit

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gatekit-dev/gatekit/internal/audit"
	"github.com/gatekit-dev/gatekit/internal/captcha"
	"github.com/gatekit-dev/gatekit/internal/metrics"
	"github.com/gatekit-dev/gatekit/internal/stores"
	"github.com/gatekit-dev/gatekit/internal/throttle"
	"github.com/gatekit-dev/gatekit/internal/token"
	"github.com/gatekit-dev/gatekit/password"
)

// Builder assembles an [Engine]. Redis and a [UserProvider] are mandatory;
// everything else has a working default.
type Builder struct {
	config     Config
	hasConfig  bool
	redis      redis.UniversalClient
	users      UserProvider
	mail       MailDispatcher
	resetFlags ResetFlagStore
	auditSink  audit.Sink
	logger     *zap.Logger
}

// NewBuilder starts a builder with [DefaultConfig].
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.hasConfig = true
	return b
}

// WithRedis sets the Redis client backing all transient state. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the account store adapter. Required.
func (b *Builder) WithUserProvider(p UserProvider) *Builder {
	b.users = p
	return b
}

// WithMailDispatcher sets the outbound mail adapter. Without one the email
// factor cannot deliver codes and login notifications are skipped.
func (b *Builder) WithMailDispatcher(m MailDispatcher) *Builder {
	b.mail = m
	return b
}

// WithResetFlags sets the emergency-reset flag store consumed by
// [Engine.RunEmergencyResets].
func (b *Builder) WithResetFlags(r ResetFlagStore) *Builder {
	b.resetFlags = r
	return b
}

// WithAuditSink sets the sink audit events are dispatched to.
func (b *Builder) WithAuditSink(s audit.Sink) *Builder {
	b.auditSink = s
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.config
	if !b.hasConfig {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("user provider is required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hasher, err := password.NewHasher(password.Config(cfg.Password))
	if err != nil {
		return nil, err
	}
	// A throwaway digest verified against on unknown-account logins, so the
	// response time does not reveal whether the account exists.
	dummyHash, err := hasher.Hash("gatekit-nonexistent-account")
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(cfg.Session.SigningKey)
	if err != nil {
		return nil, err
	}

	prefix := cfg.Session.RedisPrefix

	e := &Engine{
		config:     cloneConfig(cfg),
		users:      b.users,
		mail:       b.mail,
		resetFlags: b.resetFlags,
		logger:     logger,

		tracker: throttle.New(throttle.Config{
			SweepInterval: cfg.Throttle.SweepInterval,
			MaxIdleAge:    cfg.Throttle.MaxIdleAge,
		}),
		captcha:    captcha.New(cfg.Captcha.Timeout),
		hasher:     hasher,
		dummyHash:  dummyHash,
		emailCodes: stores.NewEmailCodeStore(b.redis, prefix),
		pending:    stores.NewPendingLoginStore(b.redis, prefix),
		ceremonies: stores.NewCeremonyStore(b.redis, prefix),
		sessions:   stores.NewSessionStore(b.redis, prefix),
		tokens:     tokens,

		auditor: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: metrics.NewRegistry(cfg.Metrics.Enabled),

		ready: true,
	}
	return e, nil
}
