// Package nonce issues and consumes single-use challenge nonces.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/ports"
)

const (
	// DefaultTTL bounds the whole challenge/response round trip
	DefaultTTL = 300 * time.Second

	keyPrefix = "nonce:"
	size      = 16
)

// Store binds nonces to addresses in the key-value collaborator
type Store struct {
	kv  ports.Store
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a nonce store. A zero ttl selects DefaultTTL.
func NewStore(kv ports.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, now: time.Now}
}

// TTL returns how long an issued nonce stays valid
func (s *Store) TTL() time.Duration { return s.ttl }

// Issue creates a nonce bound to address and returns it with its expiry
func (s *Store) Issue(ctx context.Context, address string) (string, time.Time, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	expiresAt := s.now().Add(s.ttl)
	if err := s.kv.Put(ctx, keyPrefix+nonce, address, s.ttl); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store nonce: %w", err)
	}

	return nonce, expiresAt, nil
}

// Consume returns the address bound to nonce and removes the nonce.
// The nonce is gone after this call whatever the caller does next.
func (s *Store) Consume(ctx context.Context, nonce string) (string, error) {
	if !wellFormed(nonce) {
		return "", fmt.Errorf("%w: malformed nonce", core.ErrInvalidNonce)
	}

	address, err := s.kv.Take(ctx, keyPrefix+nonce)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: nonce unknown, expired or already used", core.ErrInvalidNonce)
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume nonce: %w", err)
	}

	return address, nil
}

func wellFormed(nonce string) bool {
	if len(nonce) != 2*size {
		return false
	}
	for _, c := range nonce {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
