package gatekit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gatekit-dev/gatekit/internal/audit"
	"github.com/gatekit-dev/gatekit/internal/captcha"
	"github.com/gatekit-dev/gatekit/internal/metrics"
	"github.com/gatekit-dev/gatekit/internal/stores"
	"github.com/gatekit-dev/gatekit/internal/throttle"
	"github.com/gatekit-dev/gatekit/internal/token"
	"github.com/gatekit-dev/gatekit/password"
)

// Engine is the authentication engine. Construct it through [Builder]; the
// zero value returns [ErrEngineNotReady] from every method. All methods are
// safe for concurrent use.
type Engine struct {
	config     Config
	users      UserProvider
	mail       MailDispatcher
	resetFlags ResetFlagStore
	logger     *zap.Logger

	tracker    *throttle.Tracker
	captcha    *captcha.Verifier
	hasher     *password.Hasher
	dummyHash  string
	emailCodes *stores.EmailCodeStore
	pending    *stores.PendingLoginStore
	ceremonies *stores.CeremonyStore
	sessions   *stores.SessionStore
	tokens     *token.Manager

	auditor *audit.Dispatcher
	metrics *metrics.Registry

	ready bool
}

// SessionInfo describes a validated live session.
type SessionInfo struct {
	SessionID string
	UserID    int64
	Origin    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ValidateSession checks a presented token against both its signature and
// the server-side session record. A token whose record was revoked or
// expired is invalid regardless of its own expiry claim.
func (e *Engine) ValidateSession(ctx context.Context, rawToken string) (*SessionInfo, error) {
	if !e.ready {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(rawToken)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	session, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, stores.ErrSessionNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, storeErr(err)
	}
	if session.UserID != claims.UserID {
		return nil, ErrSessionInvalid
	}

	return &SessionInfo{
		SessionID: session.SessionID,
		UserID:    session.UserID,
		Origin:    session.Origin,
		CreatedAt: time.Unix(session.CreatedAt, 0),
		ExpiresAt: time.Unix(session.ExpiresAt, 0),
	}, nil
}

// Logout revokes the session behind the token. Unknown and expired tokens
// are rejected rather than silently ignored.
func (e *Engine) Logout(ctx context.Context, rawToken string) error {
	if !e.ready {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(rawToken)
	if err != nil {
		return ErrSessionInvalid
	}
	if err := e.sessions.Delete(ctx, claims.SessionID); err != nil {
		return storeErr(err)
	}

	e.metricInc(metrics.SessionRevoked)
	e.audit(ctx, audit.Event{
		EventType: audit.EventLogout,
		UserID:    claims.UserID,
		Success:   true,
	})
	return nil
}

// MetricsSnapshot copies the current counter values. All counters report
// zero when metrics are disabled.
func (e *Engine) MetricsSnapshot() map[string]uint64 {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.auditor.Dropped()
}

// Close flushes the audit dispatcher. The engine must not be used after.
func (e *Engine) Close() {
	e.auditor.Close()
}

func (e *Engine) metricInc(id metrics.MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) audit(ctx context.Context, event audit.Event) {
	if e.auditor == nil {
		return
	}
	event.Timestamp = time.Now()
	e.auditor.Emit(ctx, event)
}

// storeErr maps transient-store faults onto the public sentinel.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreBackend, err)
}
