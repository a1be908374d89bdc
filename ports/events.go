package ports

import (
	"context"
	"time"
)

// Identity event kinds
const (
	EventUserCreated       = "user.created"
	EventWalletLinked      = "wallet.linked"
	EventIdentitySuggested = "identity.suggested"
	EventSessionCreated    = "session.created"
)

// IdentityEvent describes a change to a user's identity graph
type IdentityEvent struct {
	Kind      string            `json:"kind"`
	UserID    string            `json:"user_id"`
	Address   string            `json:"address,omitempty"`
	Family    string            `json:"family,omitempty"`
	Method    string            `json:"method,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	At        time.Time         `json:"at"`
}

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishIdentity(ctx context.Context, event IdentityEvent) error
	PublishLogout(ctx context.Context, userID string, sessionID string) error
}
