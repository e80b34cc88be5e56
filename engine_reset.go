package gatekit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"go.uber.org/zap"

	"github.com/gatekit-dev/gatekit/internal/audit"
	"github.com/gatekit-dev/gatekit/internal/metrics"
	"github.com/gatekit-dev/gatekit/internal/stores"
)

// RunEmergencyResets processes out-of-band reset flags: each flagged
// account gets a freshly generated password and loses all second factors
// and transient login state. The new password is written to the log
// exactly once, at the moment of the reset; it is stored nowhere else.
// Call this on startup and whenever the flag store may have changed.
//
// Returns the number of accounts reset. A failure on one account does not
// stop the others; its flag stays pending for the next run.
func (e *Engine) RunEmergencyResets(ctx context.Context) (int, error) {
	if !e.ready {
		return 0, ErrEngineNotReady
	}
	if e.resetFlags == nil {
		return 0, nil
	}

	usernames, err := e.resetFlags.Pending(ctx)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, username := range usernames {
		if err := e.resetAccount(ctx, username); err != nil {
			e.logger.Error("emergency reset failed", zap.String("username", username), zap.Error(err))
			continue
		}
		if err := e.resetFlags.Consume(ctx, username); err != nil {
			// The reset already happened; running it again is safe, just a
			// second password rotation.
			e.logger.Error("emergency reset flag not consumed", zap.String("username", username), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (e *Engine) resetAccount(ctx context.Context, username string) error {
	user, err := e.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// A flag for an account that no longer exists is stale, not fatal.
			e.logger.Warn("emergency reset flag for unknown account", zap.String("username", username))
			return nil
		}
		return err
	}

	secret := make([]byte, 18)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	plaintext := base64.RawURLEncoding.EncodeToString(secret)

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	if user.TOTPSecret != "" {
		if err := e.users.SetTOTPSecret(ctx, user.ID, ""); err != nil {
			return err
		}
	}
	if len(user.Credentials) > 0 {
		if err := e.users.RemoveCredentials(ctx, user.ID); err != nil {
			return err
		}
	}
	if err := e.users.SetActiveFactor(ctx, user.ID, FactorNone, false); err != nil {
		return err
	}

	// Drop whatever transient state the account had in flight.
	if err := e.emailCodes.Clear(ctx, user.ID); err != nil {
		return storeErr(err)
	}
	if err := e.ceremonies.Clear(ctx, user.ID, stores.CeremonyRegister); err != nil {
		return storeErr(err)
	}
	if err := e.ceremonies.Clear(ctx, user.ID, stores.CeremonyLogin); err != nil {
		return storeErr(err)
	}

	// The only place the new password ever appears.
	e.logger.Warn("emergency password reset completed",
		zap.String("username", username),
		zap.Int64("user_id", user.ID),
		zap.String("new_password", plaintext))

	e.metricInc(metrics.EmergencyReset)
	e.audit(ctx, audit.Event{EventType: audit.EventEmergencyReset, UserID: user.ID, Success: true})
	return nil
}
