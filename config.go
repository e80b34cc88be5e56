package gatekit

import (
	"errors"
	"time"
)

// Config carries engine construction parameters. Configure once, before
// [Builder.Build]; the engine treats it as immutable afterwards. Deployment
// state that operators flip at runtime lives in [Settings] instead and is
// passed into every orchestrator call.
type Config struct {
	Throttle ThrottleConfig
	Captcha  CaptchaConfig
	Password PasswordConfig
	TOTP     TOTPConfig
	EmailOTP EmailOTPConfig
	Passkey  PasskeyConfig
	Pending  PendingLoginConfig
	Session  SessionConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
THROTTLE / CAPTCHA
====================================
*/

// ThrottleConfig tunes the in-memory attempt tracker.
type ThrottleConfig struct {
	// SweepInterval bounds how often the lazy sweep may run.
	SweepInterval time.Duration
	// MaxIdleAge is how long an origin record may sit untouched before the
	// sweep removes it.
	MaxIdleAge time.Duration
}

// CaptchaProvider selects the external verification endpoint.
type CaptchaProvider string

const (
	// CaptchaRecaptcha is Google reCAPTCHA v2/v3 siteverify.
	CaptchaRecaptcha CaptchaProvider = "recaptcha"
	// CaptchaHCaptcha is the hCaptcha siteverify endpoint.
	CaptchaHCaptcha CaptchaProvider = "hcaptcha"
	// CaptchaTurnstile is Cloudflare Turnstile.
	CaptchaTurnstile CaptchaProvider = "turnstile"
)

// CaptchaConfig tunes the outbound verification adapter. Provider, secret
// and thresholds are runtime state and live in [Settings].
type CaptchaConfig struct {
	// Timeout is the hard deadline for the provider round trip. The adapter
	// fails closed when it elapses.
	Timeout time.Duration
}

/*
====================================
CREDENTIALS & FACTORS
====================================
*/

// PasswordConfig carries argon2id parameters (memory in KB).
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// TOTPConfig tunes code generation and drift tolerance.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	// Skew is the number of adjacent steps accepted on each side of now.
	Skew int
}

// EmailOTPConfig tunes the mailed one-time code factor.
type EmailOTPConfig struct {
	Digits int
	TTL    time.Duration
}

// PasskeyConfig tunes WebAuthn ceremonies. The relying-party ID itself is
// derived per request from the inbound host, never configured.
type PasskeyConfig struct {
	RPDisplayName string
	// CeremonyTTL bounds how long an issued challenge stays valid.
	CeremonyTTL time.Duration
}

// PendingLoginConfig tunes the half-authenticated challenge records created
// between the credential gate and factor verification.
type PendingLoginConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
SESSIONS / OBSERVABILITY
====================================
*/

// SessionConfig tunes issued sessions. Tokens are signed JWTs referencing a
// Redis-backed session record; both sides must agree for validation.
type SessionConfig struct {
	Lifetime    time.Duration
	RedisPrefix string
	// SigningKey is the HMAC key for session tokens. Required.
	SigningKey []byte
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
RUNTIME SETTINGS SNAPSHOT
====================================
*/

// Settings is the per-call snapshot of operator-mutable deployment state.
// The surrounding system refreshes it on its own cadence and passes it into
// every orchestrator call; the engine never reaches into global state.
type Settings struct {
	MaintenanceMode bool

	// EmailFactorEnabled makes the email factor available at all;
	// EmailFactorMandatory additionally promotes factorless accounts to it
	// once (excluding internal accounts).
	EmailFactorEnabled   bool
	EmailFactorMandatory bool

	CaptchaEnabled   bool
	CaptchaProvider  CaptchaProvider
	CaptchaSecret    string
	CaptchaThreshold int

	LockoutThreshold int
	LockoutDuration  time.Duration
}

// DefaultConfig returns the baseline configuration. SigningKey must still
// be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Throttle: ThrottleConfig{
			SweepInterval: 5 * time.Minute,
			MaxIdleAge:    time.Hour,
		},
		Captcha: CaptchaConfig{
			Timeout: 5 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		TOTP: TOTPConfig{
			Issuer: "gatekit",
			Digits: 6,
			Period: 30,
			Skew:   1,
		},
		EmailOTP: EmailOTPConfig{
			Digits: 6,
			TTL:    10 * time.Minute,
		},
		Passkey: PasskeyConfig{
			RPDisplayName: "gatekit",
			CeremonyTTL:   5 * time.Minute,
		},
		Pending: PendingLoginConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
		},
		Session: SessionConfig{
			Lifetime:    24 * time.Hour,
			RedisPrefix: "gk",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate rejects configurations that would weaken the engine below its
// hardening floors. Cost parameters may be raised, never lowered.
func (c *Config) Validate() error {
	if c.Password.Memory < 8*1024 {
		return errors.New("password memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("password time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("password parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("password salt and key length must be >= 16")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be 6..8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp skew must be 0..2")
	}
	if c.EmailOTP.Digits < 6 {
		return errors.New("email otp digits must be >= 6")
	}
	if c.EmailOTP.TTL <= 0 {
		return errors.New("email otp ttl must be positive")
	}
	if c.Passkey.CeremonyTTL <= 0 {
		return errors.New("passkey ceremony ttl must be positive")
	}
	if c.Pending.TTL <= 0 || c.Pending.MaxAttempts < 1 {
		return errors.New("pending login ttl and max attempts must be positive")
	}
	if c.Captcha.Timeout <= 0 {
		return errors.New("captcha timeout must be positive")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if len(c.Session.SigningKey) < 32 {
		return errors.New("session signing key must be >= 32 bytes")
	}
	if c.Throttle.SweepInterval <= 0 || c.Throttle.MaxIdleAge <= 0 {
		return errors.New("throttle sweep interval and max idle age must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.SigningKey = append([]byte(nil), cfg.Session.SigningKey...)
	return out
}
