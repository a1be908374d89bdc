package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/layer-3/walletauth/ports"
	"github.com/stretchr/testify/require"
)

func TestLogMailer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := m.Send(context.Background(), ports.Email{
		To:      "alice@example.com",
		Subject: "Your code",
		Text:    "123456",
	})
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "email sent", entry["msg"])
	require.Equal(t, "alice@example.com", entry["to"])
	require.Equal(t, "123456", entry["text"])
}
