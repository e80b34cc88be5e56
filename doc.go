// Package gatekit is an embeddable login and multi-factor verification engine.
// It turns a credential submission into an authenticated session through a
// gated state machine: origin throttling, optional CAPTCHA escalation,
// credential verification, then second-factor dispatch (TOTP, emailed
// one-time codes, WebAuthn passkeys). It also manages the lifecycle of those
// factors.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after construction through
// [Builder.Build].
//
// # Architecture boundaries
//
// gatekit is the public surface. It exposes [Engine], [Builder], [Config],
// [Settings], and value types (LoginOutcome, UserRecord, CredentialRecord).
// Coordination (attempt tracking, CAPTCHA adapters, transient challenge
// stores, audit dispatch) lives under internal/ and is never exported.
//
// User persistence belongs to the caller: implement [UserProvider] over
// whatever database owns the identity records. Mail delivery is the caller's
// too, via [MailDispatcher]. The engine owns only transient protocol state
// (pending logins, issued codes, open passkey ceremonies, sessions), kept in
// Redis with bounded TTLs.
//
// # Failure posture
//
// An unreachable CAPTCHA backend fails closed: the attempt is rejected. An
// unreachable mail relay fails open: login proceeds, the code simply was not
// delivered. Nothing is retried inside the engine; every failure is surfaced
// synchronously with enough structure to drive a client UI and never with
// enough to reveal whether an account exists.
package gatekit
