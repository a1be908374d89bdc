// Package service exposes the authentication use cases to the transport layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/walletauth/challenge"
	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/identity"
	"github.com/layer-3/walletauth/nonce"
	"github.com/layer-3/walletauth/ports"
)

// DefaultAccessTTL is the lifetime of an access token
const DefaultAccessTTL = 15 * time.Minute

// LoginRequest is a signed challenge together with the client's device
type LoginRequest struct {
	Address    string
	WalletType string
	Signature  string
	Message    string
	PublicKey  string
	Device     *core.DeviceInfo
}

// LoginResult is returned on successful login
type LoginResult struct {
	AccessToken  string
	SessionToken string
	UserID       string
	IsNewUser    bool
	ExpiresIn    time.Duration
	Method       identity.MatchMethod
}

// LinkRequest adds a wallet to the caller. The new wallet signs Message and
// the caller's primary wallet signs the same Message.
type LinkRequest struct {
	Address          string
	WalletType       string
	Signature        string
	Message          string
	PublicKey        string
	PrimarySignature string
}

// Profile is a user together with their wallets
type Profile struct {
	User    core.User
	Wallets []core.Wallet
}

// AuthService handles authentication business logic
type AuthService struct {
	nonces     *nonce.Store
	codec      *challenge.Codec
	correlator *identity.Correlator
	tokenizer  ports.Tokenizer
	eventPub   ports.EventPublisher
	logger     *slog.Logger

	accessTTL time.Duration
	now       func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	nonces *nonce.Store,
	codec *challenge.Codec,
	correlator *identity.Correlator,
	tokenizer ports.Tokenizer,
	eventPub ports.EventPublisher,
	logger *slog.Logger,
	accessTTL time.Duration,
) *AuthService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &AuthService{
		nonces:     nonces,
		codec:      codec,
		correlator: correlator,
		tokenizer:  tokenizer,
		eventPub:   eventPub,
		logger:     logger,
		accessTTL:  accessTTL,
		now:        time.Now,
	}
}

// CreateChallenge issues a nonce for address and renders the message to sign
func (s *AuthService) CreateChallenge(ctx context.Context, address, walletType string) (*core.Challenge, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", core.ErrInvalidArgument)
	}

	family, err := core.ParseWalletType(walletType)
	if err != nil {
		return nil, err
	}
	address = core.NormalizeAddress(family, address)

	n, expiresAt, err := s.nonces.Issue(ctx, address)
	if err != nil {
		return nil, err
	}

	issuedAt := s.now()
	return &core.Challenge{
		Address:   address,
		Family:    family,
		Nonce:     n,
		Message:   s.codec.Render(address, n, issuedAt),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Login authenticates a signed challenge, resolves the user behind the wallet
// and opens a session.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	family, err := core.ParseWalletType(req.WalletType)
	if err != nil {
		s.logger.WarnContext(ctx, "login with unsupported wallet type", "wallet_type", req.WalletType)
		return nil, core.ErrAuthenticationFailed
	}

	res, err := s.correlator.Resolve(ctx, core.Credentials{
		Address:    strings.TrimSpace(req.Address),
		Family:     family,
		WalletType: req.WalletType,
		Signature:  req.Signature,
		Message:    req.Message,
		PublicKey:  req.PublicKey,
	}, req.Device)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.issueAccessToken(res.User.ID, res.Session.ID, res.Wallet.Address)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "login",
		"user_id", res.User.ID,
		"address", res.Wallet.Address,
		"family", res.Wallet.Family.String(),
		"method", string(res.Method),
		"new_user", res.IsNewUser,
	)

	return &LoginResult{
		AccessToken:  accessToken,
		SessionToken: res.SessionToken,
		UserID:       res.User.ID,
		IsNewUser:    res.IsNewUser,
		ExpiresIn:    s.accessTTL,
		Method:       res.Method,
	}, nil
}

// Refresh exchanges a live session token for a new access token
func (s *AuthService) Refresh(ctx context.Context, sessionToken string) (string, error) {
	user, session, err := s.correlator.UserBySessionToken(ctx, sessionToken)
	if err != nil {
		return "", err
	}

	wallets, err := s.correlator.ListWallets(ctx, user.ID)
	if err != nil {
		return "", err
	}

	address := ""
	for _, w := range wallets {
		if w.ID == session.WalletID {
			address = w.Address
			break
		}
	}

	return s.issueAccessToken(user.ID, session.ID, address)
}

// Logout ends the session identified by sessionToken
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	session, err := s.correlator.EndSession(ctx, sessionToken)
	if err != nil {
		return err
	}

	// Publish logout event for cross-instance notifications. The session is
	// already gone, so a broker failure does not fail the logout.
	if err := s.eventPub.PublishLogout(ctx, session.UserID, session.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to publish logout event", "session_id", session.ID, "error", err)
	}

	return nil
}

// ValidateAccessToken checks an access token and that its session is still live
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*ports.AccessGrant, error) {
	grant, err := s.tokenizer.AccessTokenToGrant(accessToken)
	if err != nil {
		return nil, err
	}

	session, err := s.correlator.ActiveSession(ctx, grant.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != grant.UserID {
		return nil, core.ErrInvalidToken
	}

	return grant, nil
}

// LinkWallet adds a wallet to userID after checking both signatures
func (s *AuthService) LinkWallet(ctx context.Context, userID string, req LinkRequest) (core.Wallet, error) {
	family, err := core.ParseWalletType(req.WalletType)
	if err != nil {
		return core.Wallet{}, core.ErrAuthenticationFailed
	}

	return s.correlator.LinkWallet(ctx, userID, core.Credentials{
		Address:    strings.TrimSpace(req.Address),
		Family:     family,
		WalletType: req.WalletType,
		Signature:  req.Signature,
		Message:    req.Message,
		PublicKey:  req.PublicKey,
	}, req.PrimarySignature)
}

// SetPrimaryWallet makes one of the user's wallets primary
func (s *AuthService) SetPrimaryWallet(ctx context.Context, userID, address string) (core.Wallet, error) {
	return s.correlator.SetPrimaryWallet(ctx, userID, strings.TrimSpace(address))
}

// ListWallets returns the user's wallets, primary first
func (s *AuthService) ListWallets(ctx context.Context, userID string) ([]core.Wallet, error) {
	return s.correlator.ListWallets(ctx, userID)
}

// Me returns the user behind an access grant
func (s *AuthService) Me(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.correlator.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallets, err := s.correlator.ListWallets(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: user, Wallets: wallets}, nil
}

func (s *AuthService) issueAccessToken(userID, sessionID, address string) (string, error) {
	now := s.now()
	token, err := s.tokenizer.GrantToAccessToken(&ports.AccessGrant{
		TokenID:   uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Address:   address,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessTTL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create access token: %w", err)
	}
	return token, nil
}

// IsSessionError reports whether err means the caller must log in again
func IsSessionError(err error) bool {
	return errors.Is(err, core.ErrSessionNotFound) ||
		errors.Is(err, core.ErrSessionExpired) ||
		errors.Is(err, core.ErrInvalidToken) ||
		errors.Is(err, core.ErrTokenExpired)
}
