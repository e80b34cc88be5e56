package gatekit

import (
	"context"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/gatekit-dev/gatekit/internal/audit"
	"github.com/gatekit-dev/gatekit/internal/metrics"
)

// TOTPProvision is the enrollment material for an authenticator app. The
// secret is shown to the user exactly once; the engine keeps only the
// stored copy.
type TOTPProvision struct {
	// Secret is the shared secret, base32.
	Secret string
	// URL is the otpauth:// provisioning URI, typically rendered as a QR code.
	URL string
}

// ProvisionTOTP generates a fresh shared secret for the account and stores
// it. Enrollment is a two-step commit: the factor does not activate until
// [Engine.ConfirmTOTP] proves the authenticator produces matching codes.
// Re-provisioning replaces any earlier unconfirmed secret.
func (e *Engine) ProvisionTOTP(ctx context.Context, userID int64) (*TOTPProvision, error) {
	if !e.ready {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TOTP.Issuer,
		AccountName: user.Username,
		Period:      uint(e.config.TOTP.Period),
		Digits:      otp.Digits(e.config.TOTP.Digits),
	})
	if err != nil {
		return nil, err
	}

	if err := e.users.SetTOTPSecret(ctx, user.ID, key.Secret()); err != nil {
		return nil, err
	}

	e.metricInc(metrics.TOTPProvisioned)
	e.audit(ctx, audit.Event{EventType: audit.EventTOTPProvisioned, UserID: user.ID, Success: true})

	return &TOTPProvision{Secret: key.Secret(), URL: key.String()}, nil
}

// ConfirmTOTP verifies a code against the provisioned secret and, on
// success, makes TOTP the account's active factor.
func (e *Engine) ConfirmTOTP(ctx context.Context, userID int64, code string) error {
	if !e.ready {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPSecret == "" {
		return ErrTOTPNotProvisioned
	}

	if !e.verifyTOTP(user.TOTPSecret, code) {
		e.metricInc(metrics.FactorFailure)
		e.audit(ctx, audit.Event{
			EventType: audit.EventFactorFailure,
			UserID:    user.ID,
			Metadata:  map[string]string{"factor": string(FactorTOTP), "stage": "confirm"},
		})
		return ErrFactorInvalid
	}

	if err := e.users.SetActiveFactor(ctx, user.ID, FactorTOTP, true); err != nil {
		return err
	}

	e.metricInc(metrics.TOTPConfirmed)
	e.audit(ctx, audit.Event{EventType: audit.EventTOTPConfirmed, UserID: user.ID, Success: true})
	return nil
}
