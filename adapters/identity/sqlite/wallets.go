package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/walletauth/core"
)

const walletColumns = `id, user_id, address, family, wallet_type, public_key, is_primary, first_used_at, last_used_at`

type walletsRepo struct {
	db dbtx
}

func (r *walletsRepo) Create(ctx context.Context, w core.Wallet) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wallets (`+walletColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Address, w.Family.String(), w.WalletType, w.PublicKey, w.IsPrimary,
		w.FirstUsedAt.UTC(), w.LastUsedAt.UTC(),
	)
	return mapErr(err)
}

func (r *walletsRepo) GetByAddress(ctx context.Context, address string) (core.Wallet, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE address = ?`, address)
	w, err := scanWallet(row)
	if err != nil {
		return core.Wallet{}, mapErr(err)
	}
	return w, nil
}

func (r *walletsRepo) ListByUser(ctx context.Context, userID string) ([]core.Wallet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = ? ORDER BY is_primary DESC, first_used_at ASC`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var wallets []core.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		wallets = append(wallets, w)
	}
	return wallets, mapErr(rows.Err())
}

func (r *walletsRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return requireAffected(r.db.ExecContext(ctx, `UPDATE wallets SET last_used_at = ? WHERE id = ?`, at.UTC(), id))
}

// SetPrimary must run inside a transaction: the flag is cleared before it is
// set so the one-primary index never sees two.
func (r *walletsRepo) SetPrimary(ctx context.Context, userID, walletID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE wallets SET is_primary = 0 WHERE user_id = ?`, userID); err != nil {
		return mapErr(err)
	}
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE wallets SET is_primary = 1 WHERE id = ? AND user_id = ?`, walletID, userID))
}

func scanWallet(s rowScanner) (core.Wallet, error) {
	var (
		w      core.Wallet
		family string
	)
	err := s.Scan(&w.ID, &w.UserID, &w.Address, &family, &w.WalletType, &w.PublicKey, &w.IsPrimary,
		&w.FirstUsedAt, &w.LastUsedAt)
	if err != nil {
		return core.Wallet{}, err
	}

	w.Family, err = core.ParseWalletType(family)
	if err != nil {
		return core.Wallet{}, fmt.Errorf("wallet %s: %w", w.ID, err)
	}
	return w, nil
}
