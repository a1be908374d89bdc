package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/layer-3/walletauth/core"
)

type usersRepo struct {
	db dbtx
}

func (r *usersRepo) Create(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, email_verified, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, mapStringNull(u.Email), u.EmailVerified, u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	return mapErr(err)
}

func (r *usersRepo) Get(ctx context.Context, id string) (core.User, error) {
	var (
		u     core.User
		email sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, email_verified, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &email, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return core.User{}, mapErr(err)
	}
	u.Email = mapNullString(email)
	return u, nil
}

func (r *usersRepo) SetEmail(ctx context.Context, id, email string, verified bool, at time.Time) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE users SET email = ?, email_verified = ?, updated_at = ? WHERE id = ?`,
		mapStringNull(email), verified, at.UTC(), id,
	))
}

func (r *usersRepo) Delete(ctx context.Context, id string) error {
	return requireAffected(r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id))
}
