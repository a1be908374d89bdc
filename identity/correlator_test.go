package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/layer-3/walletauth/adapters/identity/sqlite"
	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/ports"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	mu        sync.Mutex
	err       error
	cosigners []core.Credentials
}

func (f *fakeAuth) Authenticate(_ context.Context, _ core.Credentials, cosigners ...core.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cosigners = cosigners
	return f.err
}

func (f *fakeAuth) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.IdentityEvent
}

func (p *recordingPublisher) PublishIdentity(_ context.Context, e ports.IdentityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishLogout(context.Context, string, string) error { return nil }

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, len(p.events))
	for i, e := range p.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (p *recordingPublisher) last(kind string) (ports.IdentityEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Kind == kind {
			return p.events[i], true
		}
	}
	return ports.IdentityEvent{}, false
}

type correlatorFixture struct {
	c      *Correlator
	auth   *fakeAuth
	store  *sqlite.Store
	events *recordingPublisher
	now    time.Time
}

func newCorrelatorFixture(t *testing.T, policy Policy) *correlatorFixture {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.ApplyMigrations())

	f := &correlatorFixture{
		auth:   &fakeAuth{},
		store:  store,
		events: &recordingPublisher{},
		now:    time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC),
	}
	f.c = NewCorrelator(f.auth, store, f.events, policy, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.c.now = func() time.Time { return f.now }
	return f
}

func (f *correlatorFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func evmCred(n int) core.Credentials {
	return core.Credentials{
		Address:    fmt.Sprintf("0x%040x", n),
		Family:     core.FamilyEVM,
		WalletType: "metamask",
		Message:    "signed challenge",
		Signature:  "0xsig",
	}
}

func laptop() *core.DeviceInfo {
	return &core.DeviceInfo{
		UserAgent:        "Mozilla/5.0 (Macintosh)",
		ScreenResolution: "1440x900",
		Timezone:         "Europe/Lisbon",
		Language:         "pt-PT",
		IPAddress:        "192.0.2.10",
	}
}

func phone() *core.DeviceInfo {
	return &core.DeviceInfo{
		UserAgent:        "Mozilla/5.0 (iPhone)",
		ScreenResolution: "390x844",
		Timezone:         "Europe/Lisbon",
		Language:         "pt-PT",
		IPAddress:        "192.0.2.77",
	}
}

func TestResolveNewUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCorrelatorFixture(t, DefaultPolicy())

	res, err := f.c.Resolve(ctx, evmCred(1), laptop())
	require.NoError(t, err)
	require.True(t, res.IsNewUser)
	require.Equal(t, MatchNone, res.Method)
	require.True(t, res.Wallet.IsPrimary)
	require.Equal(t, res.User.ID, res.Wallet.UserID)
	require.Equal(t, "METAMASK", res.Wallet.WalletType)
	require.Equal(t, "0x0000000000000000000000000000000000000001", res.Wallet.Address)
	require.NotEmpty(t, res.SessionToken)
	require.Equal(t, Fingerprint(*laptop()), res.Session.Fingerprint)
	require.Equal(t, f.now.Add(7*24*time.Hour), res.Session.ExpiresAt)

	stored, err := f.store.Sessions().GetByTokenHash(ctx, hashSessionToken(res.SessionToken))
	require.NoError(t, err)
	require.Equal(t, res.Session.ID, stored.ID)
	require.NotEqual(t, res.SessionToken, stored.TokenHash)

	pattern, err := f.store.Patterns().Get(ctx, res.User.ID)
	require.NoError(t, err)
	require.Equal(t, 1, pattern.Pattern.SessionCount)
	require.Equal(t, "0.1", pattern.Confidence.String())

	require.Equal(t, []string{ports.EventUserCreated, ports.EventSessionCreated}, f.events.kinds())
}

func TestResolveWithoutDevice(t *testing.T) {
	t.Parallel()

	f := newCorrelatorFixture(t, DefaultPolicy())

	res, err := f.c.Resolve(context.Background(), evmCred(1), nil)
	require.NoError(t, err)
	require.True(t, res.IsNewUser)
	require.Empty(t, res.Session.Fingerprint)
}

func TestResolveKnownWallet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCorrelatorFixture(t, DefaultPolicy())

	first, err := f.c.Resolve(ctx, evmCred(1), laptop())
	require.NoError(t, err)

	f.advance(time.Hour)
	cred := evmCred(1)
	cred.Address = "0X0000000000000000000000000000000000000001"
	second, err := f.c.Resolve(ctx, cred, phone())
	require.NoError(t, err)
	require.False(t, second.IsNewUser)
	require.Equal(t, MatchWallet, second.Method)
	require.Equal(t, first.User.ID, second.User.ID)
	require.Equal(t, first.Wallet.ID, second.Wallet.ID)
	require.NotEqual(t, first.SessionToken, second.SessionToken)

	wallet, err := f.store.Wallets().GetByAddress(ctx, first.Wallet.Address)
	require.NoError(t, err)
	require.WithinDuration(t, f.now, wallet.LastUsedAt, time.Millisecond)

	sessions, err := f.store.Sessions().ListByUser(ctx, first.User.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestResolveFingerprintAssociation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("unknown wallet on a device with a live session joins its user", func(t *testing.T) {
		f := newCorrelatorFixture(t, DefaultPolicy())

		owner, err := f.c.Resolve(ctx, evmCred(1), laptop())
		require.NoError(t, err)

		f.advance(time.Minute)
		res, err := f.c.Resolve(ctx, evmCred(2), laptop())
		require.NoError(t, err)
		require.False(t, res.IsNewUser)
		require.Equal(t, MatchFingerprint, res.Method)
		require.Equal(t, owner.User.ID, res.User.ID)
		require.False(t, res.Wallet.IsPrimary)

		wallets, err := f.c.ListWallets(ctx, owner.User.ID)
		require.NoError(t, err)
		require.Len(t, wallets, 2)
		require.Equal(t, owner.Wallet.ID, wallets[0].ID)

		linked, ok := f.events.last(ports.EventWalletLinked)
		require.True(t, ok)
		require.Equal(t, string(MatchFingerprint), linked.Method)
	})

	t.Run("expired sessions do not count", func(t *testing.T) {
		f := newCorrelatorFixture(t, DefaultPolicy())

		owner, err := f.c.Resolve(ctx, evmCred(1), laptop())
		require.NoError(t, err)

		f.advance(8 * 24 * time.Hour)
		res, err := f.c.Resolve(ctx, evmCred(2), laptop())
		require.NoError(t, err)
		require.True(t, res.IsNewUser)
		require.NotEqual(t, owner.User.ID, res.User.ID)
	})

	t.Run("disabled", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.FingerprintLinking = false
		f := newCorrelatorFixture(t, policy)

		owner, err := f.c.Resolve(ctx, evmCred(1), laptop())
		require.NoError(t, err)

		res, err := f.c.Resolve(ctx, evmCred(2), laptop())
		require.NoError(t, err)
		require.True(t, res.IsNewUser)
		require.NotEqual(t, owner.User.ID, res.User.ID)
	})
}

func TestResolveBehaviorSuggestions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// The owner used the laptop eight days ago; that session has expired so
	// only the behavior signal remains.
	setup := func(t *testing.T, policy Policy) (*correlatorFixture, *Resolution) {
		f := newCorrelatorFixture(t, policy)
		owner, err := f.c.Resolve(ctx, evmCred(1), laptop())
		require.NoError(t, err)
		f.advance(8 * 24 * time.Hour)
		return f, owner
	}

	t.Run("suggested but never linked by default", func(t *testing.T) {
		f, owner := setup(t, DefaultPolicy())

		res, err := f.c.Resolve(ctx, evmCred(2), laptop())
		require.NoError(t, err)
		require.True(t, res.IsNewUser)
		require.NotEqual(t, owner.User.ID, res.User.ID)
		require.Len(t, res.Suggestions, 1)
		require.Equal(t, owner.User.ID, res.Suggestions[0].UserID)
		require.Equal(t, 1, res.Suggestions[0].Sessions)
		require.Equal(t, "1", res.Suggestions[0].Score.String())

		suggested, ok := f.events.last(ports.EventIdentitySuggested)
		require.True(t, ok)
		require.Equal(t, res.User.ID, suggested.UserID)
		require.Equal(t, owner.User.ID+":1:1.00", suggested.Details["candidates"])
	})

	t.Run("auto-linked above the floor when enabled", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.BehaviorAutoLink = true
		f, owner := setup(t, policy)

		res, err := f.c.Resolve(ctx, evmCred(2), laptop())
		require.NoError(t, err)
		require.False(t, res.IsNewUser)
		require.Equal(t, MatchBehavior, res.Method)
		require.Equal(t, owner.User.ID, res.User.ID)
		require.False(t, res.Wallet.IsPrimary)

		_, ok := f.events.last(ports.EventIdentitySuggested)
		require.False(t, ok)
	})

	t.Run("not linked below the floor", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.BehaviorAutoLink = true
		f, owner := setup(t, policy)

		// A fresh device has no history to compare with
		res, err := f.c.Resolve(ctx, evmCred(2), phone())
		require.NoError(t, err)
		require.True(t, res.IsNewUser)
		require.Len(t, res.Suggestions, 1)
		require.Equal(t, owner.User.ID, res.Suggestions[0].UserID)
		require.True(t, res.Suggestions[0].Score.IsZero())
	})

	t.Run("pruning keeps the history behavior reads", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.BehaviorAutoLink = true
		f, owner := setup(t, policy)

		n, err := f.c.PruneSessions(ctx)
		require.NoError(t, err)
		require.Zero(t, n)

		res, err := f.c.Resolve(ctx, evmCred(2), laptop())
		require.NoError(t, err)
		require.Equal(t, MatchBehavior, res.Method)
		require.Equal(t, owner.User.ID, res.User.ID)
	})

	t.Run("history past the window is pruned", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.BehaviorAutoLink = true
		f, _ := setup(t, policy)
		f.advance(policy.BehaviorWindow)

		n, err := f.c.PruneSessions(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		res, err := f.c.Resolve(ctx, evmCred(2), laptop())
		require.NoError(t, err)
		require.True(t, res.IsNewUser)
		require.Empty(t, res.Suggestions)
	})

	t.Run("other locales are ignored", func(t *testing.T) {
		f, _ := setup(t, DefaultPolicy())

		device := laptop()
		device.Timezone = "Asia/Tokyo"
		res, err := f.c.Resolve(ctx, evmCred(2), device)
		require.NoError(t, err)
		require.Empty(t, res.Suggestions)
	})
}

func cardanoCred(t *testing.T, pub ed25519.PublicKey) core.Credentials {
	t.Helper()
	key, err := cbor.Marshal([]byte(pub))
	require.NoError(t, err)
	sig, err := cbor.Marshal(make([]byte, ed25519.SignatureSize))
	require.NoError(t, err)
	envelope, err := json.Marshal(map[string]string{"signature": hex.EncodeToString(sig), "key": hex.EncodeToString(key)})
	require.NoError(t, err)
	return core.Credentials{
		Address:    "addr1vyqz7lmacqz4hzgenxw4x8fqkq0c3nlgxknyq9cakp2sp5qqnqqqq",
		Family:     core.FamilyCardano,
		WalletType: "NAMI",
		Message:    "signed challenge",
		Signature:  string(envelope),
	}
}

func TestResolveKeyBoundWallet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCorrelatorFixture(t, DefaultPolicy())

	owner, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	intruder, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	first, err := f.c.Resolve(ctx, cardanoCred(t, owner), nil)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(owner), first.Wallet.PublicKey)

	_, err = f.c.Resolve(ctx, cardanoCred(t, intruder), nil)
	require.ErrorIs(t, err, core.ErrAuthenticationFailed)

	again, err := f.c.Resolve(ctx, cardanoCred(t, owner), nil)
	require.NoError(t, err)
	require.Equal(t, MatchWallet, again.Method)
	require.Equal(t, first.User.ID, again.User.ID)
}

func TestResolveRejectsFailedAuthentication(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("verification failure", func(t *testing.T) {
		f := newCorrelatorFixture(t, DefaultPolicy())
		f.auth.fail(fmt.Errorf("%w: evm: recovered address mismatch", core.ErrSignatureInvalid))

		_, err := f.c.Resolve(ctx, evmCred(1), laptop())
		require.ErrorIs(t, err, core.ErrAuthenticationFailed)
		require.NotErrorIs(t, err, core.ErrSignatureInvalid)

		_, err = f.store.Wallets().GetByAddress(ctx, evmCred(1).Address)
		require.ErrorIs(t, err, ports.ErrNotFound)
		require.Empty(t, f.events.kinds())
	})

	t.Run("infrastructure failure", func(t *testing.T) {
		f := newCorrelatorFixture(t, DefaultPolicy())
		f.auth.fail(fmt.Errorf("failed to take nonce: %w", core.ErrInfrastructureUnavailable))

		_, err := f.c.Resolve(ctx, evmCred(1), laptop())
		require.ErrorIs(t, err, core.ErrInfrastructureUnavailable)
		require.NotErrorIs(t, err, core.ErrAuthenticationFailed)
	})
}

func TestLinkWallet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("both signatures link the wallet", func(t *testing.T) {
		f := newCorrelatorFixture(t, DefaultPolicy())
		owner, err := f.c.Resolve(ctx, evmCred(1), nil)
		require.NoError(t, err)

		wallet, err := f.c.LinkWallet(ctx, owner.User.ID, evmCred(2), "0xprimary")
		require.NoError(t, err)
		require.Equal(t, owner.User.ID, wallet.UserID)
		require.False(t, wallet.IsPrimary)

		require.Len(t, f.auth.cosigners, 1)
		require.Equal(t, owner.Wallet.Address, f.auth.cosigners[0].Address)
		require.Equal(t, core.FamilyEVM, f.auth.cosigners[0].Family)
		require.Equal(t, "0xprimary", f.auth.cosigners[0].Signature)

		linked, ok := f.events.last(ports.EventWalletLinked)
		require.True(t, ok)
		require.Equal(t, string(MatchExplicit), linked.Method)

		again, err := f.c.LinkWallet(ctx, owner.User.ID, evmCred(2), "0xprimary")
		require.NoError(t, err)
		require.Equal(t, wallet.ID, again.ID)
	})

	t.Run("wallet owned by another user", func(t *testing.T) {
		f := newCorrelatorFixture(t, DefaultPolicy())
		owner, err := f.c.Resolve(ctx, evmCred(1), nil)
		require.NoError(t, err)
		_, err = f.c.Resolve(ctx, evmCred(2), nil)
		require.NoError(t, err)

		_, err = f.c.LinkWallet(ctx, owner.User.ID, evmCred(2), "0xprimary")
		require.ErrorIs(t, err, core.ErrLinkingConflict)
	})

	t.Run("failed signature", func(t *testing.T) {
		f := newCorrelatorFixture(t, DefaultPolicy())
		owner, err := f.c.Resolve(ctx, evmCred(1), nil)
		require.NoError(t, err)

		f.auth.fail(core.ErrSignatureInvalid)
		_, err = f.c.LinkWallet(ctx, owner.User.ID, evmCred(2), "0xprimary")
		require.ErrorIs(t, err, core.ErrAuthenticationFailed)

		wallets, err := f.c.ListWallets(ctx, owner.User.ID)
		require.NoError(t, err)
		require.Len(t, wallets, 1)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newCorrelatorFixture(t, DefaultPolicy())
		_, err := f.c.LinkWallet(ctx, "nobody", evmCred(2), "0xprimary")
		require.ErrorIs(t, err, core.ErrWalletNotFound)
	})
}

func TestSetPrimaryWallet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCorrelatorFixture(t, DefaultPolicy())

	owner, err := f.c.Resolve(ctx, evmCred(1), nil)
	require.NoError(t, err)
	_, err = f.c.LinkWallet(ctx, owner.User.ID, evmCred(2), "0xprimary")
	require.NoError(t, err)

	wallet, err := f.c.SetPrimaryWallet(ctx, owner.User.ID, "0x0000000000000000000000000000000000000002")
	require.NoError(t, err)
	require.True(t, wallet.IsPrimary)

	wallets, err := f.c.ListWallets(ctx, owner.User.ID)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	require.Equal(t, wallet.ID, wallets[0].ID)
	require.True(t, wallets[0].IsPrimary)
	require.False(t, wallets[1].IsPrimary)

	_, err = f.c.SetPrimaryWallet(ctx, owner.User.ID, "0x0000000000000000000000000000000000000009")
	require.ErrorIs(t, err, core.ErrWalletNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCorrelatorFixture(t, DefaultPolicy())

	res, err := f.c.Resolve(ctx, evmCred(1), laptop())
	require.NoError(t, err)

	f.advance(time.Hour)
	user, session, err := f.c.UserBySessionToken(ctx, res.SessionToken)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, user.ID)
	require.Equal(t, res.Session.ID, session.ID)
	require.Equal(t, f.now, session.LastActiveAt)

	active, err := f.c.ActiveSession(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, active.UserID)

	_, _, err = f.c.UserBySessionToken(ctx, "unknown")
	require.ErrorIs(t, err, core.ErrSessionNotFound)

	ended, err := f.c.EndSession(ctx, res.SessionToken)
	require.NoError(t, err)
	require.Equal(t, res.Session.ID, ended.ID)

	_, _, err = f.c.UserBySessionToken(ctx, res.SessionToken)
	require.ErrorIs(t, err, core.ErrSessionNotFound)
	_, err = f.c.ActiveSession(ctx, res.Session.ID)
	require.ErrorIs(t, err, core.ErrSessionNotFound)
	_, err = f.c.EndSession(ctx, res.SessionToken)
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCorrelatorFixture(t, DefaultPolicy())

	res, err := f.c.Resolve(ctx, evmCred(1), laptop())
	require.NoError(t, err)

	f.advance(7 * 24 * time.Hour)
	_, _, err = f.c.UserBySessionToken(ctx, res.SessionToken)
	require.ErrorIs(t, err, core.ErrSessionExpired)
	_, err = f.c.ActiveSession(ctx, res.Session.ID)
	require.ErrorIs(t, err, core.ErrSessionExpired)

	// Expired sessions are kept for the behavior window
	n, err := f.c.PruneSessions(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	_, _, err = f.c.UserBySessionToken(ctx, res.SessionToken)
	require.ErrorIs(t, err, core.ErrSessionExpired)

	f.advance(DefaultPolicy().BehaviorWindow)
	n, err = f.c.PruneSessions(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, _, err = f.c.UserBySessionToken(ctx, res.SessionToken)
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestUser(t *testing.T) {
	t.Parallel()

	f := newCorrelatorFixture(t, DefaultPolicy())
	_, err := f.c.User(context.Background(), "nobody")
	require.ErrorIs(t, err, core.ErrUserNotFound)
}
