package ports

import "context"

// Email is an outgoing message
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers email. Delivery itself is an external concern.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}
