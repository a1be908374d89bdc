// Package identity resolves authenticated wallets to users and sessions.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/ports"
	"github.com/layer-3/walletauth/signature"
	"github.com/shopspring/decimal"
)

// MatchMethod tells how a login was tied to its user
type MatchMethod string

const (
	MatchWallet      MatchMethod = "wallet"
	MatchFingerprint MatchMethod = "fingerprint"
	MatchBehavior    MatchMethod = "behavior"
	MatchExplicit    MatchMethod = "explicit"
	MatchNone        MatchMethod = "new_user"
)

// errWalletRace means a concurrent request bound the address first
var errWalletRace = errors.New("wallet created concurrently")

// Authenticator proves a wallet signed a fresh challenge
type Authenticator interface {
	Authenticate(ctx context.Context, cred core.Credentials, cosigners ...core.Credentials) error
}

// Policy controls how unknown wallets are tied to existing users
type Policy struct {
	SessionTTL time.Duration

	// FingerprintLinking attaches an unknown wallet to the user owning a live
	// session with the same device fingerprint. It is a low-confidence
	// convenience and is never used to deny access.
	FingerprintLinking bool

	// BehaviorAutoLink attaches an unknown wallet to the best behavior
	// candidate scoring at least SimilarityFloor. When false, candidates are
	// only reported as suggestions.
	BehaviorAutoLink   bool
	SimilarityFloor    float64
	BehaviorWindow     time.Duration
	BehaviorCandidates int
}

// DefaultPolicy never links by behavior alone
func DefaultPolicy() Policy {
	return Policy{
		SessionTTL:         7 * 24 * time.Hour,
		FingerprintLinking: true,
		BehaviorAutoLink:   false,
		SimilarityFloor:    0.8,
		BehaviorWindow:     30 * 24 * time.Hour,
		BehaviorCandidates: 10,
	}
}

// Suggestion is a user that may own an unknown wallet, judged by behavior
type Suggestion struct {
	UserID   string
	Sessions int
	Score    decimal.Decimal

	score float64
}

// Resolution is the outcome of a successful login
type Resolution struct {
	User         core.User
	Wallet       core.Wallet
	Session      core.Session
	SessionToken string
	IsNewUser    bool
	Method       MatchMethod
	Suggestions  []Suggestion
}

// Correlator ties verified wallets to user identities and issues sessions
type Correlator struct {
	auth   Authenticator
	store  ports.IdentityStore
	events ports.EventPublisher
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewCorrelator creates a correlator
func NewCorrelator(auth Authenticator, store ports.IdentityStore, events ports.EventPublisher, policy Policy, logger *slog.Logger) *Correlator {
	return &Correlator{
		auth:   auth,
		store:  store,
		events: events,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve authenticates cred and returns the user it belongs to together with
// a new session. Verification failures are returned as
// core.ErrAuthenticationFailed; nothing but the nonce is touched in that case.
func (c *Correlator) Resolve(ctx context.Context, cred core.Credentials, device *core.DeviceInfo) (*Resolution, error) {
	if err := c.auth.Authenticate(ctx, cred); err != nil {
		return nil, c.rejected(ctx, "login", cred, err)
	}

	res, err := c.resolve(ctx, cred, device)
	if errors.Is(err, errWalletRace) {
		// The address is bound now, so the retry takes the known-wallet path
		res, err = c.resolve(ctx, cred, device)
	}
	if err != nil {
		return nil, err
	}

	c.afterLogin(ctx, res)
	return res, nil
}

func (c *Correlator) resolve(ctx context.Context, cred core.Credentials, device *core.DeviceInfo) (*Resolution, error) {
	now := c.now()
	address := core.NormalizeAddress(cred.Family, cred.Address)

	fingerprint := ""
	if !device.Empty() {
		fingerprint = Fingerprint(*device)
	}

	wallet, err := c.store.Wallets().GetByAddress(ctx, address)
	if err == nil {
		if err := checkSigner(cred, wallet); err != nil {
			return nil, c.rejected(ctx, "login", cred, err)
		}
		return c.resumeKnown(ctx, wallet, device, fingerprint, now)
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up wallet: %w", err)
	}

	key, err := signature.SignerKey(cred.Family, cred.Signature, cred.PublicKey)
	if err != nil {
		return nil, c.rejected(ctx, "login", cred, fmt.Errorf("%w: %v", core.ErrSignatureInvalid, err))
	}

	ownerID, method, suggestions, err := c.identify(ctx, device, fingerprint, now)
	if err != nil {
		return nil, err
	}

	wallet = core.Wallet{
		ID:          uuid.New().String(),
		Address:     address,
		Family:      cred.Family,
		WalletType:  walletType(cred),
		PublicKey:   key,
		FirstUsedAt: now,
		LastUsedAt:  now,
	}

	if ownerID != "" {
		res, err := c.attach(ctx, ownerID, wallet, device, fingerprint, now)
		if err != nil {
			return nil, err
		}
		res.Method = method
		res.Suggestions = suggestions
		return res, nil
	}

	res, err := c.create(ctx, wallet, device, fingerprint, now)
	if err != nil {
		return nil, err
	}
	res.Suggestions = suggestions
	return res, nil
}

// identify looks for the probable owner of an unknown wallet
func (c *Correlator) identify(ctx context.Context, device *core.DeviceInfo, fingerprint string, now time.Time) (string, MatchMethod, []Suggestion, error) {
	if fingerprint == "" {
		return "", MatchNone, nil, nil
	}

	if c.policy.FingerprintLinking {
		live, err := c.store.Sessions().ListLiveByFingerprint(ctx, fingerprint, now)
		if err != nil {
			return "", MatchNone, nil, fmt.Errorf("failed to match fingerprint: %w", err)
		}
		if len(live) > 0 {
			return live[0].UserID, MatchFingerprint, nil, nil
		}
	}

	suggestions, err := c.suggest(ctx, *device, fingerprint, now)
	if err != nil {
		return "", MatchNone, nil, err
	}

	if c.policy.BehaviorAutoLink {
		for _, s := range suggestions {
			if s.score >= c.policy.SimilarityFloor {
				return s.UserID, MatchBehavior, suggestions, nil
			}
		}
	}

	return "", MatchNone, suggestions, nil
}

// suggest ranks users with recent sessions in the same timezone and language,
// most sessions first. Scores compare their behavior with the history of this
// device fingerprint.
func (c *Correlator) suggest(ctx context.Context, device core.DeviceInfo, fingerprint string, now time.Time) ([]Suggestion, error) {
	if device.Timezone == "" || device.Language == "" {
		return nil, nil
	}

	recent, err := c.store.Sessions().ListRecentByLocale(ctx, device.Timezone, device.Language,
		now.Add(-c.policy.BehaviorWindow), c.policy.BehaviorCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sessions: %w", err)
	}
	if len(recent) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	var order []string
	for _, s := range recent {
		if counts[s.UserID] == 0 {
			order = append(order, s.UserID)
		}
		counts[s.UserID]++
	}

	history, err := c.store.Sessions().ListByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to list device history: %w", err)
	}
	observed := Summarize(history)

	suggestions := make([]Suggestion, 0, len(order))
	for _, userID := range order {
		sessions, err := c.store.Sessions().ListByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list user sessions: %w", err)
		}
		score := Similarity(observed, Summarize(sessions))
		suggestions = append(suggestions, Suggestion{
			UserID:   userID,
			Sessions: counts[userID],
			Score:    decimal.NewFromFloat(score).Round(2),
			score:    score,
		})
	}

	slices.SortStableFunc(suggestions, func(a, b Suggestion) int {
		return b.Sessions - a.Sessions
	})
	return suggestions, nil
}

func (c *Correlator) resumeKnown(ctx context.Context, wallet core.Wallet, device *core.DeviceInfo, fingerprint string, now time.Time) (*Resolution, error) {
	user, err := c.store.Users().Get(ctx, wallet.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet owner: %w", err)
	}

	session, token, err := c.newSession(user.ID, wallet.ID, device, fingerprint, now)
	if err != nil {
		return nil, err
	}

	err = c.store.WithTx(ctx, func(tx ports.IdentityRepos) error {
		if err := tx.Wallets().Touch(ctx, wallet.ID, now); err != nil {
			return err
		}
		return tx.Sessions().Create(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	wallet.LastUsedAt = now
	return &Resolution{User: user, Wallet: wallet, Session: session, SessionToken: token, Method: MatchWallet}, nil
}

// attach binds wallet to an existing user as a non-primary wallet
func (c *Correlator) attach(ctx context.Context, userID string, wallet core.Wallet, device *core.DeviceInfo, fingerprint string, now time.Time) (*Resolution, error) {
	user, err := c.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load matched user: %w", err)
	}

	wallet.UserID = user.ID
	wallet.IsPrimary = false

	session, token, err := c.newSession(user.ID, wallet.ID, device, fingerprint, now)
	if err != nil {
		return nil, err
	}

	err = c.store.WithTx(ctx, func(tx ports.IdentityRepos) error {
		if err := tx.Wallets().Create(ctx, wallet); err != nil {
			if errors.Is(err, ports.ErrAlreadyExists) {
				return errWalletRace
			}
			return err
		}
		return tx.Sessions().Create(ctx, session)
	})
	if err != nil {
		if errors.Is(err, errWalletRace) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to attach wallet: %w", err)
	}

	return &Resolution{User: user, Wallet: wallet, Session: session, SessionToken: token}, nil
}

// create makes a new user owning wallet as its primary
func (c *Correlator) create(ctx context.Context, wallet core.Wallet, device *core.DeviceInfo, fingerprint string, now time.Time) (*Resolution, error) {
	user := core.User{ID: uuid.New().String(), CreatedAt: now, UpdatedAt: now}
	wallet.UserID = user.ID
	wallet.IsPrimary = true

	session, token, err := c.newSession(user.ID, wallet.ID, device, fingerprint, now)
	if err != nil {
		return nil, err
	}

	// User, primary wallet and session commit together or not at all
	err = c.store.WithTx(ctx, func(tx ports.IdentityRepos) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		if err := tx.Wallets().Create(ctx, wallet); err != nil {
			if errors.Is(err, ports.ErrAlreadyExists) {
				return errWalletRace
			}
			return err
		}
		return tx.Sessions().Create(ctx, session)
	})
	if err != nil {
		if errors.Is(err, errWalletRace) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &Resolution{User: user, Wallet: wallet, Session: session, SessionToken: token, IsNewUser: true, Method: MatchNone}, nil
}

func (c *Correlator) newSession(userID, walletID string, device *core.DeviceInfo, fingerprint string, now time.Time) (core.Session, string, error) {
	token, hash, err := newSessionToken()
	if err != nil {
		return core.Session{}, "", err
	}

	session := core.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		WalletID:     walletID,
		TokenHash:    hash,
		Fingerprint:  fingerprint,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(c.policy.SessionTTL),
	}
	if device != nil {
		session.Device = *device
	}
	return session, token, nil
}

// afterLogin records the behavior pattern and publishes events. Failures are
// logged only; the session already exists.
func (c *Correlator) afterLogin(ctx context.Context, res *Resolution) {
	c.refreshPattern(ctx, res.User.ID)

	wallet := res.Wallet
	switch {
	case res.IsNewUser:
		c.publish(ctx, ports.IdentityEvent{
			Kind:    ports.EventUserCreated,
			UserID:  res.User.ID,
			Address: wallet.Address,
			Family:  wallet.Family.String(),
		})
	case res.Method == MatchFingerprint || res.Method == MatchBehavior:
		c.logger.InfoContext(ctx, "wallet auto-linked",
			"user_id", res.User.ID,
			"address", wallet.Address,
			"method", string(res.Method),
		)
		c.publish(ctx, ports.IdentityEvent{
			Kind:    ports.EventWalletLinked,
			UserID:  res.User.ID,
			Address: wallet.Address,
			Family:  wallet.Family.String(),
			Method:  string(res.Method),
		})
	}

	if len(res.Suggestions) > 0 && res.Method != MatchBehavior {
		candidates := make([]string, len(res.Suggestions))
		for i, s := range res.Suggestions {
			candidates[i] = fmt.Sprintf("%s:%d:%s", s.UserID, s.Sessions, s.Score.StringFixed(2))
		}
		c.publish(ctx, ports.IdentityEvent{
			Kind:    ports.EventIdentitySuggested,
			UserID:  res.User.ID,
			Address: wallet.Address,
			Family:  wallet.Family.String(),
			Method:  string(MatchBehavior),
			Details: map[string]string{"candidates": strings.Join(candidates, ",")},
		})
	}

	c.publish(ctx, ports.IdentityEvent{
		Kind:      ports.EventSessionCreated,
		UserID:    res.User.ID,
		Address:   wallet.Address,
		Family:    wallet.Family.String(),
		SessionID: res.Session.ID,
	})
}

func (c *Correlator) refreshPattern(ctx context.Context, userID string) {
	sessions, err := c.store.Sessions().ListByUser(ctx, userID)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to load sessions for behavior pattern", "user_id", userID, "error", err)
		return
	}

	pattern := Summarize(sessions)
	confidence := decimal.NewFromInt(int64(min(pattern.SessionCount, 10))).Div(decimal.NewFromInt(10))

	err = c.store.Patterns().Upsert(ctx, core.StoredPattern{
		UserID:     userID,
		Pattern:    pattern,
		Confidence: confidence,
		UpdatedAt:  c.now(),
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to store behavior pattern", "user_id", userID, "error", err)
	}
}

func (c *Correlator) publish(ctx context.Context, event ports.IdentityEvent) {
	if event.At.IsZero() {
		event.At = c.now()
	}
	if err := c.events.PublishIdentity(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "failed to publish identity event", "kind", event.Kind, "error", err)
	}
}

// rejected logs a verification failure with its detail and returns the error
// the caller may see.
func (c *Correlator) rejected(ctx context.Context, op string, cred core.Credentials, err error) error {
	if errors.Is(err, core.ErrInfrastructureUnavailable) {
		c.logger.ErrorContext(ctx, "authentication unavailable", "op", op, "error", err)
		return fmt.Errorf("%s: %w", op, core.ErrInfrastructureUnavailable)
	}

	c.logger.WarnContext(ctx, "authentication failed",
		"op", op,
		"family", cred.Family.String(),
		"address", cred.Address,
		"error", err,
	)
	return core.ErrAuthenticationFailed
}

// checkSigner rejects cred unless it was signed by the key recorded for
// wallet. Hedera and Cardano addresses do not commit to a key the way EVM
// recovery does, so the first key seen is the one that counts.
func checkSigner(cred core.Credentials, wallet core.Wallet) error {
	ok, err := signature.SameSigner(cred, wallet.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignatureInvalid, err)
	}
	if !ok {
		return fmt.Errorf("%w: signer is not the key recorded for %s", core.ErrSignatureInvalid, wallet.Address)
	}
	return nil
}

func walletType(cred core.Credentials) string {
	if cred.WalletType != "" {
		return strings.ToUpper(cred.WalletType)
	}
	return strings.ToUpper(cred.Family.String())
}
