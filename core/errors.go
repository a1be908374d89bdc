package core

import "errors"

var (
	// Verification failures. They are logged with their detail and collapsed to
	// ErrAuthenticationFailed before leaving the service.
	ErrInvalidNonce            = errors.New("invalid nonce")
	ErrMalformedChallenge      = errors.New("malformed challenge")
	ErrSignatureInvalid        = errors.New("invalid signature")
	ErrUnsupportedWalletFamily = errors.New("unsupported wallet family")
	ErrAuthenticationFailed    = errors.New("authentication failed")

	// ErrInfrastructureUnavailable marks a collaborator outage. Callers may retry.
	ErrInfrastructureUnavailable = errors.New("infrastructure unavailable")

	ErrLinkingConflict = errors.New("wallet already linked to another user")
	ErrUserNotFound    = errors.New("user not found")
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token has expired")
	ErrInvalidOTP      = errors.New("invalid verification code")
	ErrTooManyAttempts = errors.New("too many verification attempts")
	ErrInvalidArgument = errors.New("invalid argument")
)

// IsVerificationFailure reports whether err is one of the failures that must
// not be distinguished at the public boundary.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, ErrInvalidNonce) ||
		errors.Is(err, ErrMalformedChallenge) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrUnsupportedWalletFamily) ||
		errors.Is(err, ErrAuthenticationFailed)
}
