package ports

import "time"

// AccessGrant is the content of a short-lived access token
type AccessGrant struct {
	TokenID   string
	UserID    string
	SessionID string
	Address   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Tokenizer converts between access grants and signed tokens
type Tokenizer interface {
	GrantToAccessToken(grant *AccessGrant) (string, error)
	AccessTokenToGrant(token string) (*AccessGrant, error)
}
