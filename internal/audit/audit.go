// Package audit defines the engine's structured audit events and the
// asynchronous dispatcher that forwards them to a caller-supplied sink.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one audited engine decision. Metadata never carries secrets:
// no passwords, codes, or challenge values.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    int64             `json:"user_id,omitempty"`
	Origin    string            `json:"origin,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event types emitted by the engine.
const (
	EventLoginSuccess     = "login.success"
	EventLoginFailure     = "login.failure"
	EventLoginRateLimited = "login.rate_limited"
	EventCaptchaRequired  = "login.captcha_required"
	EventCaptchaRejected  = "login.captcha_rejected"
	EventFactorRequired   = "factor.required"
	EventFactorSuccess    = "factor.success"
	EventFactorFailure    = "factor.failure"
	EventFactorRemoved    = "factor.removed"
	EventFactorPromoted   = "factor.promoted"
	EventEmailCodeIssued  = "factor.email_code_issued"
	EventTOTPProvisioned  = "factor.totp_provisioned"
	EventTOTPConfirmed    = "factor.totp_confirmed"
	EventPasskeyAdded     = "factor.passkey_added"
	EventPasskeyClone     = "factor.passkey_clone_suspected"
	EventEmergencyReset   = "account.emergency_reset"
	EventLogout           = "session.logout"
)

// Sink receives emitted events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
