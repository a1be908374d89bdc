// Package mailer holds email delivery adapters.
package mailer

import (
	"context"
	"log/slog"

	"github.com/layer-3/walletauth/ports"
)

// LogMailer writes emails to the log instead of delivering them. It stands in
// for a real delivery service in development.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that logs every email at info level
func NewLogMailer(logger *slog.Logger) ports.Mailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, email ports.Email) error {
	m.logger.InfoContext(ctx, "email sent",
		"to", email.To,
		"subject", email.Subject,
		"text", email.Text,
	)
	return nil
}
