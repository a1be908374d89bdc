package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/walletauth/ports"
)

const (
	TopicIdentity = "walletauth.identity"
	TopicLogout   = "walletauth.logout"
)

// LogoutEvent represents a logout event
type LogoutEvent struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishIdentity publishes an identity graph change
func (p *WatermillPublisher) PublishIdentity(ctx context.Context, event ports.IdentityEvent) error {
	return p.publish(ctx, TopicIdentity, uuid.New().String(), event)
}

// PublishLogout publishes a logout event so other instances drop cached state
// for the session.
func (p *WatermillPublisher) PublishLogout(ctx context.Context, userID string, sessionID string) error {
	return p.publish(ctx, TopicLogout, sessionID, LogoutEvent{UserID: userID, SessionID: sessionID})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishIdentity(context.Context, ports.IdentityEvent) error { return nil }
func (NopPublisher) PublishLogout(context.Context, string, string) error       { return nil }
