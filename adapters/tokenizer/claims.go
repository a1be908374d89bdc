package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with access-specific ones.
// Subject is the user ID and ID the token ID.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`  // Server-side session backing the token
	Address   string `json:"addr"` // Wallet that opened the session
}
