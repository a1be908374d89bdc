package ports

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/walletauth/core"
)

var (
	ErrNotFound      = errors.New("identity store: not found")
	ErrAlreadyExists = errors.New("identity store: already exists")
)

// IdentityStore is the relational collaborator holding users, wallets,
// sessions and behavior patterns.
type IdentityStore interface {
	IdentityRepos

	// WithTx runs fn in a transaction, committing when fn returns nil
	WithTx(ctx context.Context, fn func(tx IdentityRepos) error) error
	Ping(ctx context.Context) error
	Close() error
}

// IdentityRepos groups the repositories usable inside and outside a transaction
type IdentityRepos interface {
	Users() Users
	Wallets() Wallets
	Sessions() Sessions
	Patterns() Patterns
}

type Users interface {
	Create(ctx context.Context, user core.User) error
	Get(ctx context.Context, id string) (core.User, error)
	SetEmail(ctx context.Context, id, email string, verified bool, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type Wallets interface {
	// Create fails with ErrAlreadyExists when the address is already bound
	Create(ctx context.Context, wallet core.Wallet) error
	GetByAddress(ctx context.Context, address string) (core.Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]core.Wallet, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// SetPrimary marks walletID primary and clears the flag on the user's other wallets
	SetPrimary(ctx context.Context, userID, walletID string) error
}

type Sessions interface {
	// Create fails with ErrAlreadyExists on a token hash collision
	Create(ctx context.Context, session core.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (core.Session, error)
	Get(ctx context.Context, id string) (core.Session, error)
	ListByUser(ctx context.Context, userID string) ([]core.Session, error)
	// ListLiveByFingerprint returns unexpired sessions carrying fingerprint, most recently active first
	ListLiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) ([]core.Session, error)
	// ListByFingerprint returns all sessions carrying fingerprint, expired ones included
	ListByFingerprint(ctx context.Context, fingerprint string) ([]core.Session, error)
	// ListRecentByLocale returns sessions created since the given time sharing timezone and language
	ListRecentByLocale(ctx context.Context, timezone, language string, since time.Time, limit int) ([]core.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Patterns interface {
	Upsert(ctx context.Context, pattern core.StoredPattern) error
	Get(ctx context.Context, userID string) (core.StoredPattern, error)
}
