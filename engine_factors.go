package gatekit

import (
	"context"

	"github.com/gatekit-dev/gatekit/internal/audit"
	"github.com/gatekit-dev/gatekit/internal/stores"
)

// AvailableFactors lists the second factors the account can currently use,
// given the deployment settings.
func (e *Engine) AvailableFactors(ctx context.Context, userID int64, settings Settings) ([]FactorType, error) {
	if !e.ready {
		return nil, ErrEngineNotReady
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return availableFactors(user, settings), nil
}

// RemoveFactor strips a factor's backing data from the account. When the
// removed factor was the active one, the account falls back to the next
// strongest remaining factor: TOTP first, then passkey, then none.
func (e *Engine) RemoveFactor(ctx context.Context, userID int64, factor FactorType) error {
	if !e.ready {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	switch factor {
	case FactorTOTP:
		if user.TOTPSecret == "" {
			return ErrFactorNotAvailable
		}
		if err := e.users.SetTOTPSecret(ctx, userID, ""); err != nil {
			return err
		}
		user.TOTPSecret = ""

	case FactorPasskey:
		if len(user.Credentials) == 0 {
			return ErrFactorNotAvailable
		}
		if err := e.users.RemoveCredentials(ctx, userID); err != nil {
			return err
		}
		user.Credentials = nil
		// Open ceremonies reference credentials that no longer exist.
		if err := e.ceremonies.Clear(ctx, userID, stores.CeremonyRegister); err != nil {
			return storeErr(err)
		}
		if err := e.ceremonies.Clear(ctx, userID, stores.CeremonyLogin); err != nil {
			return storeErr(err)
		}

	case FactorEmail:
		// Email has no per-account material; deactivating it below is the
		// whole removal.
		if user.ActiveFactor != FactorEmail {
			return ErrFactorNotAvailable
		}

	default:
		return ErrFactorUnknown
	}

	if user.ActiveFactor == factor {
		fallback := FactorNone
		switch {
		case user.HasFactor(FactorTOTP):
			fallback = FactorTOTP
		case user.HasFactor(FactorPasskey):
			fallback = FactorPasskey
		}
		if err := e.users.SetActiveFactor(ctx, userID, fallback, user.FactorChosen); err != nil {
			return err
		}
	}

	e.audit(ctx, audit.Event{
		EventType: audit.EventFactorRemoved,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"factor": string(factor)},
	})
	return nil
}
