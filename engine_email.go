package gatekit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/gatekit-dev/gatekit/internal/audit"
	"github.com/gatekit-dev/gatekit/internal/metrics"
	"github.com/gatekit-dev/gatekit/internal/stores"
)

// IssueEmailCode mails a fresh one-time code for the pending login,
// replacing any earlier code. Use it when the first delivery did not
// arrive; the original code stops working the moment the new one is saved.
func (e *Engine) IssueEmailCode(ctx context.Context, pendingLoginID string) error {
	if !e.ready {
		return ErrEngineNotReady
	}

	record, err := e.pending.Get(ctx, pendingLoginID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrPendingNotFound):
			return ErrNoPendingLogin
		case errors.Is(err, stores.ErrPendingExpired):
			return ErrFactorExpired
		}
		return storeErr(err)
	}
	if FactorType(record.Factor) != FactorEmail {
		return ErrFactorNotAvailable
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return err
	}
	return e.issueEmailCode(ctx, user)
}

// issueEmailCode generates, stores, and mails a code. The hash is persisted
// before the send: a stored-but-undelivered code is harmless, a
// delivered-but-unstored one locks the user out.
func (e *Engine) issueEmailCode(ctx context.Context, user *UserRecord) error {
	if e.mail == nil {
		return ErrMailUnavailable
	}
	if user.Email == "" {
		return ErrFactorNotAvailable
	}

	code, err := numericCode(e.config.EmailOTP.Digits)
	if err != nil {
		return err
	}
	if err := e.emailCodes.Save(ctx, user.ID, code, e.config.EmailOTP.TTL); err != nil {
		return storeErr(err)
	}

	body := fmt.Sprintf(
		"Your verification code is %s. It expires in %d minutes. If you did not request it, ignore this message.",
		code, int(e.config.EmailOTP.TTL.Minutes()),
	)
	if err := e.mail.Send(ctx, user.Email, "Your verification code", body); err != nil {
		return fmt.Errorf("%w: %v", ErrMailUnavailable, err)
	}

	e.metricInc(metrics.EmailCodeIssued)
	e.audit(ctx, audit.Event{EventType: audit.EventEmailCodeIssued, UserID: user.ID, Success: true})
	return nil
}

// numericCode draws a uniform n-digit decimal code from crypto/rand.
func numericCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
