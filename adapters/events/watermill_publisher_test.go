package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/walletauth/ports"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, topic string) (*gochannel.GoChannel, <-chan *message.Message) {
	t.Helper()

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	messages, err := pubSub.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	return pubSub, messages
}

func receive(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestPublishIdentity(t *testing.T) {
	t.Parallel()

	pubSub, messages := subscribe(t, TopicIdentity)
	publisher := NewWatermillPublisher(pubSub)

	event := ports.IdentityEvent{
		Kind:    ports.EventWalletLinked,
		UserID:  "user-1",
		Address: "0.0.1234",
		Family:  "hedera",
		Method:  "explicit",
		At:      time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC),
	}
	require.NoError(t, publisher.PublishIdentity(context.Background(), event))

	msg := receive(t, messages)
	require.NotEmpty(t, msg.UUID)

	var got ports.IdentityEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	require.Equal(t, event, got)
}

func TestPublishLogout(t *testing.T) {
	t.Parallel()

	pubSub, messages := subscribe(t, TopicLogout)
	publisher := NewWatermillPublisher(pubSub)

	require.NoError(t, publisher.PublishLogout(context.Background(), "user-1", "session-1"))

	msg := receive(t, messages)
	require.Equal(t, "session-1", msg.UUID)
	require.JSONEq(t, `{"user_id":"user-1","session_id":"session-1"}`, string(msg.Payload))
}

func TestPublishAfterClose(t *testing.T) {
	t.Parallel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	require.NoError(t, pubSub.Close())

	err := NewWatermillPublisher(pubSub).PublishLogout(context.Background(), "user-1", "session-1")
	require.Error(t, err)
}
