// Package audit captures structured security events emitted by the broker's
// domain logic. Publishers are injected at construction; the process-wide
// default is wired once at startup.
package audit

import "time"

// Action names the audited operations.
type Action string

const (
	ActionLoginSucceeded Action = "login_succeeded"
	ActionLoginFailed    Action = "login_failed"
	ActionTokenRefreshed Action = "token_refreshed"
	ActionTokenExchanged Action = "token_exchanged"
	ActionGrantRevoked   Action = "grant_revoked"
)

// Event is transport-agnostic so stores and sinks can fan out.
type Event struct {
	Action        Action
	Timestamp     time.Time
	AccountID     string
	UserType      string
	UserStructure string
	// ClientID is the downstream OAuth client involved, when any.
	ClientID string
	// Stage or reason code for failures, empty on success.
	Reason    string
	RequestID string
}

// Publisher is the injected reporting seam. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Emit(event Event)
}

// Discard drops every event. It is the default wired into components whose
// caller configured no audit sink.
type Discard struct{}

func (Discard) Emit(Event) {}
