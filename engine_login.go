package gatekit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/gatekit-dev/gatekit/internal/audit"
	"github.com/gatekit-dev/gatekit/internal/metrics"
	"github.com/gatekit-dev/gatekit/internal/stores"
)

// Login runs the first authentication step: origin throttling, the CAPTCHA
// gate, credential verification, account-state gates, and factor discovery.
// Protocol rejections come back as a [LoginOutcome] status with a nil
// error; a non-nil error means a backend fault or engine misuse.
//
// On StatusOK the outcome carries a signed session token. On
// StatusFactorRequired it carries the pending-login ID the caller must
// bring to [Engine.ConfirmLoginFactor] or the passkey finish call.
func (e *Engine) Login(ctx context.Context, req LoginRequest, settings Settings) (*LoginOutcome, error) {
	if !e.ready {
		return nil, ErrEngineNotReady
	}

	// Origin lockout. The check itself activates the lock once the count
	// reaches the threshold, so a racing burst cannot slip past it. The
	// lockout is only terminal while CAPTCHA is disabled; with CAPTCHA on,
	// a solved challenge proves a human and the attempt proceeds to the
	// credential check instead of waiting out the clock.
	blocked, failures, remaining := e.tracker.Check(req.Origin, settings.LockoutThreshold, settings.LockoutDuration)
	if blocked && !settings.CaptchaEnabled {
		e.metricInc(metrics.LoginRateLimited)
		e.audit(ctx, audit.Event{EventType: audit.EventLoginRateLimited, Origin: req.Origin})
		return &LoginOutcome{
			Status:       StatusRateLimited,
			AttemptCount: failures,
			RetryAfter:   remaining,
		}, nil
	}

	// CAPTCHA gate, keyed on prior failures from this origin and always
	// demanded while locked out. It sits before credential verification so
	// a bot cannot burn password guesses while ignoring the challenge.
	if settings.CaptchaEnabled && (blocked || failures >= settings.CaptchaThreshold) {
		if req.CaptchaToken == "" {
			e.metricInc(metrics.CaptchaRequired)
			e.audit(ctx, audit.Event{EventType: audit.EventCaptchaRequired, Origin: req.Origin})
			return &LoginOutcome{Status: StatusCaptchaRequired, AttemptCount: failures}, nil
		}
		if !e.captcha.Verify(ctx, string(settings.CaptchaProvider), req.CaptchaToken, settings.CaptchaSecret, req.Origin) {
			e.metricInc(metrics.CaptchaRejected)
			e.audit(ctx, audit.Event{EventType: audit.EventCaptchaRejected, Origin: req.Origin})
			return &LoginOutcome{Status: StatusCaptchaInvalid, AttemptCount: failures}, nil
		}
	}

	user, err := e.lookupUser(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn a verification anyway so response timing matches the
			// wrong-password path.
			e.hasher.Verify(req.Password, e.dummyHash)
			return e.credentialRejection(ctx, req.Origin, settings), nil
		}
		return nil, err
	}

	if !e.hasher.Verify(req.Password, user.PasswordHash) {
		return e.credentialRejection(ctx, req.Origin, settings), nil
	}

	// Credentials accepted: this origin is no longer suspect.
	e.tracker.Clear(req.Origin)

	if e.hasher.NeedsRehash(user.PasswordHash) {
		if fresh, err := e.hasher.Hash(req.Password); err == nil {
			if err := e.users.UpdatePasswordHash(ctx, user.ID, fresh); err != nil {
				e.logger.Warn("password rehash not persisted", zap.Int64("user_id", user.ID), zap.Error(err))
			}
		}
	}

	if !user.Active {
		if user.BannedUntil.IsZero() || time.Now().Before(user.BannedUntil) {
			e.metricInc(metrics.LoginBanned)
			e.audit(ctx, audit.Event{EventType: audit.EventLoginFailure, UserID: user.ID, Origin: req.Origin, Error: "account banned"})
			return &LoginOutcome{Status: StatusAccountBanned, UserID: user.ID}, nil
		}
		// Temporary ban elapsed; reactivate and continue.
		if err := e.users.SetAccountActive(ctx, user.ID, true); err != nil {
			return nil, err
		}
		user.Active = true
	}

	if settings.MaintenanceMode && !user.Privileged {
		e.metricInc(metrics.LoginMaintenanceRejected)
		e.audit(ctx, audit.Event{EventType: audit.EventLoginFailure, UserID: user.ID, Origin: req.Origin, Error: "maintenance mode"})
		return &LoginOutcome{Status: StatusMaintenance, UserID: user.ID}, nil
	}

	factor, err := e.resolveFactor(ctx, user, settings)
	if err != nil {
		return nil, err
	}

	if factor == FactorNone {
		return e.finalizeLogin(ctx, user, req.Origin)
	}

	pendingID := uuid.NewString()
	record := &stores.PendingLogin{
		UserID:    user.ID,
		Factor:    string(factor),
		Origin:    req.Origin,
		ExpiresAt: time.Now().Add(e.config.Pending.TTL).Unix(),
	}
	if err := e.pending.Save(ctx, pendingID, record, e.config.Pending.TTL); err != nil {
		return nil, storeErr(err)
	}

	if factor == FactorEmail {
		// Deliver the code eagerly; the user should not need a second call
		// before checking their inbox. Delivery failure is not fatal, an
		// undelivered code cannot be guessed.
		if err := e.issueEmailCode(ctx, user); err != nil {
			e.logger.Warn("email code delivery failed", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}

	e.metricInc(metrics.FactorRequired)
	e.audit(ctx, audit.Event{
		EventType: audit.EventFactorRequired,
		UserID:    user.ID,
		Origin:    req.Origin,
		Success:   true,
		Metadata:  map[string]string{"factor": string(factor)},
	})

	return &LoginOutcome{
		Status:           StatusFactorRequired,
		UserID:           user.ID,
		Factor:           factor,
		AvailableFactors: availableFactors(user, settings),
		PendingLoginID:   pendingID,
	}, nil
}

// ConfirmLoginFactor runs the second authentication step for code-based
// factors (TOTP and email). Passkey confirmations go through
// [Engine.FinishPasskeyLogin] instead.
func (e *Engine) ConfirmLoginFactor(ctx context.Context, pendingLoginID, code string, settings Settings) (*LoginOutcome, error) {
	if !e.ready {
		return nil, ErrEngineNotReady
	}

	record, err := e.pending.Get(ctx, pendingLoginID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrPendingNotFound):
			return nil, ErrNoPendingLogin
		case errors.Is(err, stores.ErrPendingExpired):
			e.metricInc(metrics.FactorExpired)
			return &LoginOutcome{Status: StatusFactorExpired}, nil
		}
		return nil, storeErr(err)
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	var ok bool
	switch FactorType(record.Factor) {
	case FactorTOTP:
		ok = e.verifyTOTP(user.TOTPSecret, code)
	case FactorEmail:
		switch err := e.emailCodes.Consume(ctx, user.ID, code); {
		case err == nil:
			ok = true
		case errors.Is(err, stores.ErrCodeMismatch), errors.Is(err, stores.ErrCodeNotFound):
			ok = false
		default:
			return nil, storeErr(err)
		}
	case FactorPasskey:
		return nil, ErrFactorNotAvailable
	default:
		return nil, ErrFactorUnknown
	}

	if !ok {
		exceeded, err := e.pending.RecordFailure(ctx, pendingLoginID, e.config.Pending.MaxAttempts)
		if err != nil {
			switch {
			case errors.Is(err, stores.ErrPendingNotFound):
				return nil, ErrNoPendingLogin
			case errors.Is(err, stores.ErrPendingExpired):
				e.metricInc(metrics.FactorExpired)
				return &LoginOutcome{Status: StatusFactorExpired}, nil
			}
			return nil, storeErr(err)
		}

		e.metricInc(metrics.FactorFailure)
		e.audit(ctx, audit.Event{
			EventType: audit.EventFactorFailure,
			UserID:    user.ID,
			Origin:    record.Origin,
			Metadata:  map[string]string{"factor": record.Factor},
		})
		if exceeded {
			return nil, ErrFactorAttemptsExceeded
		}
		return &LoginOutcome{
			Status:       StatusFactorInvalid,
			UserID:       user.ID,
			AttemptCount: int(record.Attempts) + 1,
		}, nil
	}

	// Consume the challenge; the delete doubling as a claim means two racing
	// confirmations cannot both mint a session.
	existed, err := e.pending.Delete(ctx, pendingLoginID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !existed {
		return nil, ErrNoPendingLogin
	}

	e.metricInc(metrics.FactorSuccess)
	e.audit(ctx, audit.Event{
		EventType: audit.EventFactorSuccess,
		UserID:    user.ID,
		Origin:    record.Origin,
		Success:   true,
		Metadata:  map[string]string{"factor": record.Factor},
	})

	return e.finalizeLogin(ctx, user, record.Origin)
}

// lookupUser resolves an identifier that may be a username or an address.
func (e *Engine) lookupUser(ctx context.Context, identifier string) (*UserRecord, error) {
	user, err := e.users.GetUserByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, ErrUserNotFound) && strings.Contains(identifier, "@") {
		return e.users.GetUserByEmail(ctx, identifier)
	}
	return nil, err
}

// credentialRejection records the failure and shapes the response. Unknown
// account and wrong password are deliberately indistinguishable here.
func (e *Engine) credentialRejection(ctx context.Context, origin string, settings Settings) *LoginOutcome {
	count := e.tracker.RecordFailure(origin)

	e.metricInc(metrics.LoginFailure)
	e.audit(ctx, audit.Event{EventType: audit.EventLoginFailure, Origin: origin, Error: "invalid credentials"})

	return &LoginOutcome{
		Status:             StatusInvalidCredentials,
		AttemptCount:       count,
		CaptchaNowRequired: settings.CaptchaEnabled && count >= settings.CaptchaThreshold,
	}
}

// resolveFactor decides which second factor this login must pass, healing
// stale state on the way: an active factor with no backing data falls back
// (TOTP first, then passkey, then none) and the correction is persisted.
func (e *Engine) resolveFactor(ctx context.Context, user *UserRecord, settings Settings) (FactorType, error) {
	factor := user.ActiveFactor
	if factor == "" {
		factor = FactorNone
	}

	if factor == FactorEmail && !settings.EmailFactorEnabled {
		// Deployment-wide switch, not account state; skip the factor for
		// this login without rewriting the account.
		factor = FactorNone
	}

	if (factor == FactorTOTP || factor == FactorPasskey) && !user.HasFactor(factor) {
		healed := FactorNone
		switch {
		case user.HasFactor(FactorTOTP):
			healed = FactorTOTP
		case user.HasFactor(FactorPasskey):
			healed = FactorPasskey
		}
		if err := e.users.SetActiveFactor(ctx, user.ID, healed, user.FactorChosen); err != nil {
			return FactorNone, err
		}
		e.logger.Warn("active factor had no backing data, healed",
			zap.Int64("user_id", user.ID),
			zap.String("was", string(user.ActiveFactor)),
			zap.String("now", string(healed)))
		user.ActiveFactor = healed
		factor = healed
	}

	// One-time promotion onto the email factor for accounts that never chose
	// one. Internal accounts are exempt; they may have no inbox.
	if factor == FactorNone &&
		settings.EmailFactorEnabled && settings.EmailFactorMandatory &&
		!user.FactorChosen && !user.Internal {
		if err := e.users.SetActiveFactor(ctx, user.ID, FactorEmail, false); err != nil {
			return FactorNone, err
		}
		e.audit(ctx, audit.Event{EventType: audit.EventFactorPromoted, UserID: user.ID, Success: true})
		user.ActiveFactor = FactorEmail
		factor = FactorEmail
	}

	return factor, nil
}

// availableFactors lists the factors the account could switch to mid-login.
func availableFactors(user *UserRecord, settings Settings) []FactorType {
	var out []FactorType
	if user.HasFactor(FactorTOTP) {
		out = append(out, FactorTOTP)
	}
	if settings.EmailFactorEnabled && user.Email != "" {
		out = append(out, FactorEmail)
	}
	if user.HasFactor(FactorPasskey) {
		out = append(out, FactorPasskey)
	}
	return out
}

// finalizeLogin mints the session once every gate has passed.
func (e *Engine) finalizeLogin(ctx context.Context, user *UserRecord, origin string) (*LoginOutcome, error) {
	now := time.Now()
	session := &stores.Session{
		SessionID: uuid.NewString(),
		UserID:    user.ID,
		Origin:    origin,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.Session.Lifetime).Unix(),
	}
	if err := e.sessions.Save(ctx, session, e.config.Session.Lifetime); err != nil {
		return nil, storeErr(err)
	}

	signed, err := e.tokens.Sign(session.SessionID, user.ID, time.Unix(session.ExpiresAt, 0))
	if err != nil {
		return nil, err
	}

	e.tracker.Clear(origin)

	if err := e.users.StampLastLogin(ctx, user.ID, now); err != nil {
		e.logger.Warn("last-login stamp not persisted", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	if user.NotifyOnLogin && e.mail != nil {
		body := "A new login to your account was completed at " + now.UTC().Format(time.RFC1123) + "."
		if origin != "" {
			body += " Origin: " + origin + "."
		}
		if err := e.mail.Send(ctx, user.Email, "New login to your account", body); err != nil {
			e.logger.Warn("login notification not delivered", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}

	e.metricInc(metrics.LoginSuccess)
	e.metricInc(metrics.SessionCreated)
	e.audit(ctx, audit.Event{
		EventType: audit.EventLoginSuccess,
		UserID:    user.ID,
		Origin:    origin,
		Success:   true,
	})

	return &LoginOutcome{
		Status:       StatusOK,
		UserID:       user.ID,
		SessionToken: signed,
	}, nil
}

// verifyTOTP checks a code against the shared secret with the configured
// drift tolerance.
func (e *Engine) verifyTOTP(secret, code string) bool {
	if secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    uint(e.config.TOTP.Period),
		Skew:      uint(e.config.TOTP.Skew),
		Digits:    otp.Digits(e.config.TOTP.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
