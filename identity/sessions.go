package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/ports"
)

// UserBySessionToken returns the owner of a live session and marks the
// session active.
func (c *Correlator) UserBySessionToken(ctx context.Context, token string) (core.User, core.Session, error) {
	session, err := c.sessionByToken(ctx, token)
	if err != nil {
		return core.User{}, core.Session{}, err
	}

	now := c.now()
	if err := c.store.Sessions().Touch(ctx, session.ID, now); err != nil {
		return core.User{}, core.Session{}, fmt.Errorf("failed to touch session: %w", err)
	}
	session.LastActiveAt = now

	user, err := c.User(ctx, session.UserID)
	if err != nil {
		return core.User{}, core.Session{}, err
	}
	return user, session, nil
}

// ActiveSession returns the session with id when it is still live
func (c *Correlator) ActiveSession(ctx context.Context, id string) (core.Session, error) {
	session, err := c.store.Sessions().Get(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return core.Session{}, core.ErrSessionNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Live(c.now()) {
		return core.Session{}, core.ErrSessionExpired
	}
	return session, nil
}

// EndSession deletes the session identified by token
func (c *Correlator) EndSession(ctx context.Context, token string) (core.Session, error) {
	session, err := c.store.Sessions().GetByTokenHash(ctx, hashSessionToken(token))
	if errors.Is(err, ports.ErrNotFound) {
		return core.Session{}, core.ErrSessionNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("failed to load session: %w", err)
	}

	if err := c.store.Sessions().Delete(ctx, session.ID); err != nil {
		return core.Session{}, fmt.Errorf("failed to delete session: %w", err)
	}
	return session, nil
}

// User returns the user with id
func (c *Correlator) User(ctx context.Context, id string) (core.User, error) {
	user, err := c.store.Users().Get(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// PruneSessions deletes sessions that expired more than the behavior window
// ago. Younger expired sessions stay: they are the device and locale history
// behavior matching reads.
func (c *Correlator) PruneSessions(ctx context.Context) (int64, error) {
	cutoff := c.now()
	if c.policy.BehaviorWindow > 0 {
		cutoff = cutoff.Add(-c.policy.BehaviorWindow)
	}
	return c.store.Sessions().DeleteExpired(ctx, cutoff)
}

func (c *Correlator) sessionByToken(ctx context.Context, token string) (core.Session, error) {
	session, err := c.store.Sessions().GetByTokenHash(ctx, hashSessionToken(token))
	if errors.Is(err, ports.ErrNotFound) {
		return core.Session{}, core.ErrSessionNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Live(c.now()) {
		return core.Session{}, core.ErrSessionExpired
	}
	return session, nil
}
