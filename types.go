package gatekit

import (
	"context"
	"time"
)

// FactorType identifies a second authentication factor.
type FactorType string

const (
	// FactorNone means no second factor is required for the account.
	FactorNone FactorType = "none"
	// FactorTOTP is a time-based one-time code from an authenticator app.
	FactorTOTP FactorType = "totp"
	// FactorEmail is a single-use numeric code delivered by mail.
	FactorEmail FactorType = "email"
	// FactorPasskey is a WebAuthn public-key challenge/response credential.
	FactorPasskey FactorType = "passkey"
)

// ParseFactor maps a wire name onto a [FactorType].
func ParseFactor(name string) (FactorType, error) {
	switch FactorType(name) {
	case FactorNone, FactorTOTP, FactorEmail, FactorPasskey:
		return FactorType(name), nil
	}
	return FactorNone, ErrFactorUnknown
}

// CredentialRecord is one registered passkey. CredentialID is chosen by the
// authenticator and unique within the owning account. SignCount must only
// ever grow; a regression marks the credential as suspect.
type CredentialRecord struct {
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	SignCount       uint32
	Transports      []string
	AddedAt         time.Time
	LastUsedAt      time.Time
}

// UserRecord is the engine's view of an account. The external user store
// owns it; the engine reads and mutates specific fields through
// [UserProvider]. PasswordHash is never logged or returned to callers.
type UserRecord struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string

	// ActiveFactor is the factor the account currently requires, distinct
	// from which factors merely exist. It must never reference a factor
	// with no backing data; the orchestrator self-heals violations.
	ActiveFactor FactorType
	// FactorChosen records that the user explicitly picked a second factor
	// at least once; it gates the one-time mandatory-email promotion.
	FactorChosen bool

	TOTPSecret  string // base32; non-empty means TOTP is available
	Credentials []CredentialRecord

	Active      bool
	BannedUntil time.Time // zero while Active, or for an indefinite ban

	Privileged    bool // bypasses maintenance mode
	Internal      bool // system account, excluded from factor promotion
	NotifyOnLogin bool
	LastLoginAt   time.Time
}

// HasFactor reports whether the account has backing data for the factor.
// Email availability is a deployment setting, not account state, so it is
// decided by the caller against [Settings].
func (u *UserRecord) HasFactor(f FactorType) bool {
	switch f {
	case FactorTOTP:
		return u.TOTPSecret != ""
	case FactorPasskey:
		return len(u.Credentials) > 0
	}
	return false
}

// UserProvider is the interface callers implement over their user database.
// Lookups return [ErrUserNotFound] (possibly wrapped) when no account
// matches. Field-level updates are expected to be atomic per call.
type UserProvider interface {
	GetUserByUsername(ctx context.Context, username string) (*UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetUserByID(ctx context.Context, id int64) (*UserRecord, error)

	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	SetActiveFactor(ctx context.Context, id int64, factor FactorType, chosen bool) error
	SetTOTPSecret(ctx context.Context, id int64, secret string) error

	AddCredential(ctx context.Context, id int64, cred CredentialRecord) error
	UpdateCredentialSignCount(ctx context.Context, id int64, credentialID []byte, signCount uint32, usedAt time.Time) error
	RemoveCredentials(ctx context.Context, id int64) error

	SetAccountActive(ctx context.Context, id int64, active bool) error
	StampLastLogin(ctx context.Context, id int64, at time.Time) error
}

// MailDispatcher delivers engine mail (one-time codes, login notifications).
// Failures are non-fatal to the login flow: a code that was never delivered
// cannot be guessed, which only harms the legitimate user.
type MailDispatcher interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ResetFlagStore exposes durable out-of-band emergency-reset markers, e.g.
// rows written by a deploy-time configuration change. Consume must be
// atomic: a flag is acted on exactly once.
type ResetFlagStore interface {
	Pending(ctx context.Context) ([]string, error)
	Consume(ctx context.Context, username string) error
}

// LoginStatus is the caller-facing outcome category of an orchestrator call.
type LoginStatus string

const (
	// StatusOK: fully authenticated; LoginOutcome carries the session token.
	StatusOK LoginStatus = "ok"
	// StatusCaptchaRequired: the origin crossed the CAPTCHA threshold and no
	// token was supplied; the caller should render a challenge.
	StatusCaptchaRequired LoginStatus = "captcha_required"
	// StatusCaptchaInvalid: a token was supplied and rejected by the
	// provider. Distinct from invalid credentials by design.
	StatusCaptchaInvalid LoginStatus = "captcha_invalid"
	// StatusRateLimited: origin lockout active; RetryAfter is set.
	StatusRateLimited LoginStatus = "rate_limited"
	// StatusInvalidCredentials: unknown account or wrong password,
	// indistinguishable on purpose. AttemptCount and CaptchaNowRequired let
	// the client adapt without a second round trip.
	StatusInvalidCredentials LoginStatus = "invalid_credentials"
	// StatusAccountBanned: account inactive and not past a temporary ban.
	StatusAccountBanned LoginStatus = "account_banned"
	// StatusMaintenance: maintenance mode active and account unprivileged.
	StatusMaintenance LoginStatus = "maintenance_active"
	// StatusFactorRequired: credentials accepted, second factor pending.
	// Factor, AvailableFactors and PendingLoginID are set.
	StatusFactorRequired LoginStatus = "second_factor_required"
	// StatusFactorInvalid / StatusFactorExpired: the second-step proof was
	// rejected or its window closed.
	StatusFactorInvalid LoginStatus = "second_factor_invalid"
	StatusFactorExpired LoginStatus = "second_factor_expired"
)

// LoginRequest is the first-step input to [Engine.Login].
type LoginRequest struct {
	// Identifier is either the account's username or its mail address.
	Identifier string
	Password   string
	// Origin keys attempt tracking, typically the client IP.
	Origin string
	// CaptchaToken is the client-solved challenge token, if any.
	CaptchaToken string
}

// LoginOutcome is the structured result of an orchestrator call. Protocol
// rejections are statuses, not errors: errors are reserved for backend
// faults and engine misuse.
type LoginOutcome struct {
	Status LoginStatus

	UserID       int64
	SessionToken string

	// Second-factor continuation.
	Factor           FactorType
	AvailableFactors []FactorType
	PendingLoginID   string

	// Throttling detail.
	AttemptCount       int
	CaptchaNowRequired bool
	RetryAfter         time.Duration
}
