package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/ports"
)

const (
	PurposeEmailVerification = "email_verification"

	DefaultOTPTTL         = 10 * time.Minute
	DefaultOTPMaxAttempts = 5

	otpDigits = 6
)

// OTPService verifies email ownership with one-time codes
type OTPService struct {
	kv          ports.Store
	users       ports.IdentityStore
	mailer      ports.Mailer
	logger      *slog.Logger
	ttl         time.Duration
	maxAttempts int64
	now         func() time.Time
}

// NewOTPService creates an OTP service. Zero ttl or maxAttempts select the defaults.
func NewOTPService(kv ports.Store, users ports.IdentityStore, mailer ports.Mailer, logger *slog.Logger, ttl time.Duration, maxAttempts int) *OTPService {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOTPMaxAttempts
	}
	return &OTPService{
		kv:          kv,
		users:       users,
		mailer:      mailer,
		logger:      logger,
		ttl:         ttl,
		maxAttempts: int64(maxAttempts),
		now:         time.Now,
	}
}

// RequestEmailVerification sends a fresh code to email. A new code replaces
// the previous one and resets the attempt counter.
func (s *OTPService) RequestEmailVerification(ctx context.Context, userID, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return err
	}

	if err := s.kv.Put(ctx, codeKey(PurposeEmailVerification, userID, email), code, s.ttl); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}
	if err := s.kv.Delete(ctx, attemptsKey(PurposeEmailVerification, userID, email)); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}

	err = s.mailer.Send(ctx, ports.Email{
		To:      email,
		Subject: "Verify your email",
		Text:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.ttl.Minutes())),
	})
	if err != nil {
		return fmt.Errorf("failed to send code: %w", err)
	}

	s.logger.InfoContext(ctx, "verification code sent", "user_id", userID)
	return nil
}

// VerifyEmail checks code and marks email verified on userID
func (s *OTPService) VerifyEmail(ctx context.Context, userID, email, code string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	key := codeKey(PurposeEmailVerification, userID, email)
	counter := attemptsKey(PurposeEmailVerification, userID, email)

	attempts, err := s.kv.Incr(ctx, counter, s.ttl)
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}
	if attempts > s.maxAttempts {
		return core.ErrTooManyAttempts
	}

	expected, err := s.kv.Get(ctx, key)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return core.ErrInvalidOTP
	}
	if err != nil {
		return fmt.Errorf("failed to load code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(code))) != 1 {
		s.logger.WarnContext(ctx, "wrong verification code", "user_id", userID, "attempt", attempts)
		return core.ErrInvalidOTP
	}

	err = s.users.Users().SetEmail(ctx, userID, email, true, s.now())
	switch {
	case errors.Is(err, ports.ErrAlreadyExists):
		return fmt.Errorf("%w: email belongs to another user", core.ErrLinkingConflict)
	case errors.Is(err, ports.ErrNotFound):
		return core.ErrUserNotFound
	case err != nil:
		return fmt.Errorf("failed to update user: %w", err)
	}

	if err := s.kv.Delete(ctx, key, counter); err != nil {
		s.logger.WarnContext(ctx, "failed to clear verification code", "error", err)
	}

	s.logger.InfoContext(ctx, "email verified", "user_id", userID)
	return nil
}

// Codes and attempt counters are scoped per user and address
func codeKey(purpose, userID, email string) string {
	return "otp:" + purpose + ":" + userID + ":" + email
}

func attemptsKey(purpose, userID, email string) string {
	return "otp_attempts:" + purpose + ":" + userID + ":" + email
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("%w: invalid email", core.ErrInvalidArgument)
	}
	return strings.ToLower(addr.Address), nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
