// Package metrics keeps cheap in-process counters for the engine's
// decision points. Counters are plain atomics; Snapshot copies them
// without stopping writers.
package metrics

import "sync/atomic"

// MetricID names one counter.
type MetricID int

const (
	LoginSuccess MetricID = iota
	LoginFailure
	LoginRateLimited
	LoginBanned
	LoginMaintenanceRejected
	CaptchaRequired
	CaptchaRejected
	FactorRequired
	FactorSuccess
	FactorFailure
	FactorExpired
	EmailCodeIssued
	TOTPProvisioned
	TOTPConfirmed
	PasskeyRegistered
	PasskeyCloneSuspected
	EmergencyReset
	SessionCreated
	SessionRevoked

	metricCount
)

var metricNames = [metricCount]string{
	LoginSuccess:             "login_success",
	LoginFailure:             "login_failure",
	LoginRateLimited:         "login_rate_limited",
	LoginBanned:              "login_banned",
	LoginMaintenanceRejected: "login_maintenance_rejected",
	CaptchaRequired:          "captcha_required",
	CaptchaRejected:          "captcha_rejected",
	FactorRequired:           "factor_required",
	FactorSuccess:            "factor_success",
	FactorFailure:            "factor_failure",
	FactorExpired:            "factor_expired",
	EmailCodeIssued:          "email_code_issued",
	TOTPProvisioned:          "totp_provisioned",
	TOTPConfirmed:            "totp_confirmed",
	PasskeyRegistered:        "passkey_registered",
	PasskeyCloneSuspected:    "passkey_clone_suspected",
	EmergencyReset:           "emergency_reset",
	SessionCreated:           "session_created",
	SessionRevoked:           "session_revoked",
}

// Registry holds the counters. A nil Registry is a no-op.
type Registry struct {
	counters [metricCount]atomic.Uint64
}

// NewRegistry returns a Registry, or nil when disabled.
func NewRegistry(enabled bool) *Registry {
	if !enabled {
		return nil
	}
	return &Registry{}
}

// Inc bumps one counter.
func (r *Registry) Inc(id MetricID) {
	if r == nil || id < 0 || id >= metricCount {
		return
	}
	r.counters[id].Add(1)
}

// Get reads one counter.
func (r *Registry) Get(id MetricID) uint64 {
	if r == nil || id < 0 || id >= metricCount {
		return 0
	}
	return r.counters[id].Load()
}

// Snapshot copies every counter into a name-keyed map.
func (r *Registry) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricCount)
	for id := MetricID(0); id < metricCount; id++ {
		var v uint64
		if r != nil {
			v = r.counters[id].Load()
		}
		out[metricNames[id]] = v
	}
	return out
}
