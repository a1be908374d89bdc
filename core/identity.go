package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a human identity that owns one or more wallets
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Wallet is a wallet address bound to a user
type Wallet struct {
	ID          string
	UserID      string
	Address     string // Normalized with NormalizeAddress
	Family      WalletFamily
	WalletType  string
	PublicKey   string
	IsPrimary   bool
	FirstUsedAt time.Time
	LastUsedAt  time.Time
}

// Session represents an authenticated user session on one device
type Session struct {
	ID           string
	UserID       string
	WalletID     string
	TokenHash    string // SHA-256 of the opaque session token
	Fingerprint  string // Device fingerprint, empty when no device info was sent
	Device       DeviceInfo
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// Live reports whether the session is still usable at now
func (s Session) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// BehaviorPattern summarizes session timing for a user
type BehaviorPattern struct {
	AvgDuration  time.Duration
	ActiveHours  []int // Sorted UTC hours of session creation
	SessionCount int   // Sessions that contributed to the summary
}

// StoredPattern is a persisted behavior pattern
type StoredPattern struct {
	UserID     string
	Pattern    BehaviorPattern
	Confidence decimal.Decimal
	UpdatedAt  time.Time
}
