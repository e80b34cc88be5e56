package gatekit

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/gatekit-dev/gatekit/internal/audit"
	"github.com/gatekit-dev/gatekit/internal/metrics"
	"github.com/gatekit-dev/gatekit/internal/stores"
)

// webauthnUser adapts a [UserRecord] to the interface the WebAuthn library
// authenticates against.
type webauthnUser struct {
	user *UserRecord
}

func (w webauthnUser) WebAuthnID() []byte {
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, uint64(w.user.ID))
	return id
}

func (w webauthnUser) WebAuthnName() string        { return w.user.Username }
func (w webauthnUser) WebAuthnDisplayName() string { return w.user.Username }
func (w webauthnUser) WebAuthnIcon() string        { return "" }

func (w webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(w.user.Credentials))
	for _, c := range w.user.Credentials {
		transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
		for _, t := range c.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		out = append(out, webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       transports,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return out
}

// ceremonyEnvelope is what the ceremony store holds: the library's session
// data plus the relying-party ID the challenge was issued under, so a
// finish call from a different host is caught before validation.
type ceremonyEnvelope struct {
	RPID    string          `json:"rp_id"`
	Session json.RawMessage `json:"session"`
}

// webauthnFor builds a relying party for the inbound origin. The RP ID is
// the origin's hostname; multi-domain deployments each authenticate
// against their own host rather than one configured domain.
func (e *Engine) webauthnFor(origin string) (*webauthn.WebAuthn, string, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return nil, "", ErrOriginMismatch
	}
	rpID := u.Hostname()

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: e.config.Passkey.RPDisplayName,
		RPID:          rpID,
		RPOrigins:     []string{origin},
	})
	if err != nil {
		return nil, "", err
	}
	return w, rpID, nil
}

func (e *Engine) saveCeremony(ctx context.Context, userID int64, kind, rpID string, session *webauthn.SessionData) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(&ceremonyEnvelope{RPID: rpID, Session: raw})
	if err != nil {
		return err
	}
	if err := e.ceremonies.Save(ctx, userID, kind, blob, e.config.Passkey.CeremonyTTL); err != nil {
		return storeErr(err)
	}
	return nil
}

func (e *Engine) takeCeremony(ctx context.Context, userID int64, kind, rpID string) (*webauthn.SessionData, error) {
	blob, err := e.ceremonies.Take(ctx, userID, kind)
	if err != nil {
		if errors.Is(err, stores.ErrCeremonyNotFound) {
			return nil, ErrNoPendingCeremony
		}
		return nil, storeErr(err)
	}

	var envelope ceremonyEnvelope
	if err := json.Unmarshal(blob, &envelope); err != nil {
		return nil, storeErr(err)
	}
	if envelope.RPID != rpID {
		return nil, ErrOriginMismatch
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(envelope.Session, &session); err != nil {
		return nil, storeErr(err)
	}
	return &session, nil
}

// BeginPasskeyRegistration opens a registration ceremony for an already
// authenticated user and returns the creation options to hand to the
// browser. A previous unfinished ceremony is discarded.
func (e *Engine) BeginPasskeyRegistration(ctx context.Context, userID int64, origin string) (*protocol.CredentialCreation, error) {
	if !e.ready {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	w, rpID, err := e.webauthnFor(origin)
	if err != nil {
		return nil, err
	}

	// Exclude already registered credentials so an authenticator is not
	// enrolled twice.
	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.Credentials))
	for _, c := range user.Credentials {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.CredentialID,
		})
	}

	creation, session, err := w.BeginRegistration(webauthnUser{user}, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, err
	}
	if err := e.saveCeremony(ctx, user.ID, stores.CeremonyRegister, rpID, session); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishPasskeyRegistration validates the authenticator's attestation
// response, stores the new credential, and makes passkey the account's
// active factor.
func (e *Engine) FinishPasskeyRegistration(ctx context.Context, userID int64, origin string, response io.Reader) error {
	if !e.ready {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	w, rpID, err := e.webauthnFor(origin)
	if err != nil {
		return err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		return ErrCeremonyFailed
	}

	session, err := e.takeCeremony(ctx, user.ID, stores.CeremonyRegister, rpID)
	if err != nil {
		return err
	}

	cred, err := w.CreateCredential(webauthnUser{user}, *session, parsed)
	if err != nil {
		e.audit(ctx, audit.Event{EventType: audit.EventFactorFailure, UserID: user.ID,
			Metadata: map[string]string{"factor": string(FactorPasskey), "stage": "register"}})
		return ErrCeremonyFailed
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	record := CredentialRecord{
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		SignCount:       cred.Authenticator.SignCount,
		Transports:      transports,
		AddedAt:         time.Now(),
	}
	if err := e.users.AddCredential(ctx, user.ID, record); err != nil {
		return err
	}
	if err := e.users.SetActiveFactor(ctx, user.ID, FactorPasskey, true); err != nil {
		return err
	}

	e.metricInc(metrics.PasskeyRegistered)
	e.audit(ctx, audit.Event{EventType: audit.EventPasskeyAdded, UserID: user.ID, Success: true})
	return nil
}

// BeginPasskeyLogin opens an authentication ceremony for a pending login
// whose account requires the passkey factor.
func (e *Engine) BeginPasskeyLogin(ctx context.Context, pendingLoginID, origin string) (*protocol.CredentialAssertion, error) {
	if !e.ready {
		return nil, ErrEngineNotReady
	}

	record, err := e.pendingPasskeyLogin(ctx, pendingLoginID)
	if err != nil {
		return nil, err
	}
	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	w, rpID, err := e.webauthnFor(origin)
	if err != nil {
		return nil, err
	}

	assertion, session, err := w.BeginLogin(webauthnUser{user})
	if err != nil {
		return nil, err
	}
	if err := e.saveCeremony(ctx, user.ID, stores.CeremonyLogin, rpID, session); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishPasskeyLogin validates the authenticator's assertion and, on
// success, completes the pending login with a session token.
//
// An assertion for a credential the account never registered is rejected
// without consuming the ceremony, so the user can retry with the right
// authenticator against the same challenge.
func (e *Engine) FinishPasskeyLogin(ctx context.Context, pendingLoginID, origin string, response io.Reader) (*LoginOutcome, error) {
	if !e.ready {
		return nil, ErrEngineNotReady
	}

	record, err := e.pendingPasskeyLogin(ctx, pendingLoginID)
	if err != nil {
		return nil, err
	}
	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	w, rpID, err := e.webauthnFor(origin)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		return nil, ErrCeremonyFailed
	}

	known := false
	for _, c := range user.Credentials {
		if bytes.Equal(c.CredentialID, parsed.RawID) {
			known = true
			break
		}
	}
	if !known {
		return nil, ErrCredentialUnknown
	}

	session, err := e.takeCeremony(ctx, user.ID, stores.CeremonyLogin, rpID)
	if err != nil {
		return nil, err
	}

	cred, err := w.ValidateLogin(webauthnUser{user}, *session, parsed)
	if err != nil {
		e.metricInc(metrics.FactorFailure)
		e.audit(ctx, audit.Event{EventType: audit.EventFactorFailure, UserID: user.ID, Origin: record.Origin,
			Metadata: map[string]string{"factor": string(FactorPasskey)}})
		return nil, ErrCeremonyFailed
	}

	// A non-zero sign count that failed to advance past the stored value
	// means a second authenticator holds the same private key. The assertion
	// itself verified, which makes this worse, not better.
	if cred.Authenticator.CloneWarning {
		e.metricInc(metrics.PasskeyCloneSuspected)
		e.audit(ctx, audit.Event{EventType: audit.EventPasskeyClone, UserID: user.ID, Origin: record.Origin,
			Error: "sign count regression"})
		return nil, ErrCredentialCloned
	}

	if err := e.users.UpdateCredentialSignCount(ctx, user.ID, cred.ID, cred.Authenticator.SignCount, time.Now()); err != nil {
		e.logger.Warn("sign count not persisted", zap.Int64("user_id", user.ID), zap.Error(err))
	}

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
		Metadata:  map[string]string{"factor": string(FactorPasskey)},
	})

	return e.finalizeLogin(ctx, user, record.Origin)
}

// pendingPasskeyLogin loads a pending login and insists its factor is the
// passkey.
func (e *Engine) pendingPasskeyLogin(ctx context.Context, pendingLoginID string) (*stores.PendingLogin, error) {
	record, err := e.pending.Get(ctx, pendingLoginID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrPendingNotFound):
			return nil, ErrNoPendingLogin
		case errors.Is(err, stores.ErrPendingExpired):
			return nil, ErrFactorExpired
		}
		return nil, storeErr(err)
	}
	if FactorType(record.Factor) != FactorPasskey {
		return nil, ErrFactorNotAvailable
	}
	return record, nil
}
