package gatekit

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is invoked before
	// the engine was fully constructed through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrUserNotFound must be returned by [UserProvider] lookups when no
	// account matches. The login orchestrator collapses it into the same
	// rejection as a wrong password so account existence never leaks.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials covers wrong password and unknown account alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrFactorUnknown rejects a factor name outside {totp, email, passkey}.
	ErrFactorUnknown = errors.New("unknown factor")

	// ErrFactorNotAvailable is returned when an operation targets a factor
	// the account has no backing data for.
	ErrFactorNotAvailable = errors.New("factor not available for account")

	// ErrFactorInvalid rejects a wrong TOTP or email code.
	ErrFactorInvalid = errors.New("invalid verification code")

	// ErrFactorExpired rejects an email code submitted past its expiry or a
	// pending login whose challenge window has closed.
	ErrFactorExpired = errors.New("verification code expired")

	// ErrFactorAttemptsExceeded terminates a pending login after too many
	// wrong codes.
	ErrFactorAttemptsExceeded = errors.New("verification attempts exceeded")

	// ErrNoPendingLogin means the pending-login challenge is unknown,
	// already consumed, or expired.
	ErrNoPendingLogin = errors.New("no pending login challenge")

	// ErrNoPendingCeremony means no passkey ceremony is open for the user.
	ErrNoPendingCeremony = errors.New("no pending passkey ceremony")

	// ErrCeremonyFailed covers challenge/origin/signature mismatches during
	// passkey registration or authentication.
	ErrCeremonyFailed = errors.New("passkey ceremony failed")

	// ErrCredentialUnknown rejects an assertion whose credential ID is not
	// among the account's registered passkeys.
	ErrCredentialUnknown = errors.New("credential not known")

	// ErrCredentialCloned rejects an assertion whose reported sign count
	// regressed below the stored value, regardless of signature validity.
	ErrCredentialCloned = errors.New("credential sign count regression")

	// ErrOriginMismatch rejects an asserted origin whose host does not match
	// the relying-party identifier the challenge was issued under.
	ErrOriginMismatch = errors.New("origin does not match relying party")

	// ErrTOTPNotProvisioned is returned by ConfirmTOTP when no secret was
	// generated first (two-step commit: provision, then confirm).
	ErrTOTPNotProvisioned = errors.New("totp secret not provisioned")

	// ErrSessionInvalid covers bad, expired, or revoked session tokens.
	ErrSessionInvalid = errors.New("invalid session")

	// ErrStoreBackend and ErrMailUnavailable wrap dependency faults;
	// callers should treat them as temporary.
	ErrStoreBackend    = errors.New("transient store backend unavailable")
	ErrMailUnavailable = errors.New("mail dispatcher unavailable")
)
