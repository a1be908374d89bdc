package sqlite

import (
	"context"
	"time"

	"github.com/layer-3/walletauth/core"
)

const sessionColumns = `id, user_id, wallet_id, token_hash, fingerprint,
	user_agent, screen_resolution, timezone, language, ip_address, browser_signature,
	created_at, last_active_at, expires_at`

type sessionsRepo struct {
	db dbtx
}

func (r *sessionsRepo) Create(ctx context.Context, s core.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.WalletID, s.TokenHash, s.Fingerprint,
		s.Device.UserAgent, s.Device.ScreenResolution, s.Device.Timezone, s.Device.Language,
		s.Device.IPAddress, s.Device.BrowserSignature,
		s.CreatedAt.UTC(), s.LastActiveAt.UTC(), s.ExpiresAt.UTC(),
	)
	return mapErr(err)
}

func (r *sessionsRepo) GetByTokenHash(ctx context.Context, tokenHash string) (core.Session, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, tokenHash)
}

func (r *sessionsRepo) Get(ctx context.Context, id string) (core.Session, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
}

func (r *sessionsRepo) ListByUser(ctx context.Context, userID string) ([]core.Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at ASC`, userID)
}

func (r *sessionsRepo) ListLiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) ([]core.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE fingerprint = ? AND expires_at > ? ORDER BY last_active_at DESC`,
		fingerprint, now.UTC())
}

func (r *sessionsRepo) ListByFingerprint(ctx context.Context, fingerprint string) ([]core.Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE fingerprint = ? ORDER BY created_at ASC`, fingerprint)
}

func (r *sessionsRepo) ListRecentByLocale(ctx context.Context, timezone, language string, since time.Time, limit int) ([]core.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE timezone = ? AND language = ? AND created_at > ?
		ORDER BY created_at DESC LIMIT ?`,
		timezone, language, since.UTC(), limit)
}

func (r *sessionsRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return requireAffected(r.db.ExecContext(ctx, `UPDATE sessions SET last_active_at = ? WHERE id = ?`, at.UTC(), id))
}

func (r *sessionsRepo) Delete(ctx context.Context, id string) error {
	return requireAffected(r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id))
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n, mapErr(err)
}

func (r *sessionsRepo) one(ctx context.Context, query string, args ...any) (core.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return core.Session{}, mapErr(err)
	}
	return s, nil
}

func (r *sessionsRepo) list(ctx context.Context, query string, args ...any) ([]core.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var sessions []core.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		sessions = append(sessions, s)
	}
	return sessions, mapErr(rows.Err())
}

func scanSession(s rowScanner) (core.Session, error) {
	var out core.Session
	err := s.Scan(&out.ID, &out.UserID, &out.WalletID, &out.TokenHash, &out.Fingerprint,
		&out.Device.UserAgent, &out.Device.ScreenResolution, &out.Device.Timezone, &out.Device.Language,
		&out.Device.IPAddress, &out.Device.BrowserSignature,
		&out.CreatedAt, &out.LastActiveAt, &out.ExpiresAt)
	if err != nil {
		return core.Session{}, err
	}
	return out, nil
}

