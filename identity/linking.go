package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/ports"
	"github.com/layer-3/walletauth/signature"
)

// LinkWallet adds the wallet in cred to userID. Both the new wallet (cred) and
// the user's current primary wallet (primarySignature) must have signed the
// same fresh challenge. Linking an address already owned by userID is a no-op;
// an address owned by someone else fails with core.ErrLinkingConflict.
func (c *Correlator) LinkWallet(ctx context.Context, userID string, cred core.Credentials, primarySignature string) (core.Wallet, error) {
	wallets, err := c.store.Wallets().ListByUser(ctx, userID)
	if err != nil {
		return core.Wallet{}, fmt.Errorf("failed to list wallets: %w", err)
	}
	primary, ok := primaryOf(wallets)
	if !ok {
		return core.Wallet{}, fmt.Errorf("%w: user %s has no primary wallet", core.ErrWalletNotFound, userID)
	}

	cosigner := core.Credentials{
		Address:    primary.Address,
		Family:     primary.Family,
		WalletType: primary.WalletType,
		PublicKey:  primary.PublicKey,
		Signature:  primarySignature,
	}
	if err := c.auth.Authenticate(ctx, cred, cosigner); err != nil {
		return core.Wallet{}, c.rejected(ctx, "link", cred, err)
	}
	if err := checkSigner(cosigner, primary); err != nil {
		return core.Wallet{}, c.rejected(ctx, "link", cred, err)
	}

	address := core.NormalizeAddress(cred.Family, cred.Address)
	existing, err := c.store.Wallets().GetByAddress(ctx, address)
	switch {
	case err == nil && existing.UserID == userID:
		if err := checkSigner(cred, existing); err != nil {
			return core.Wallet{}, c.rejected(ctx, "link", cred, err)
		}
		return existing, nil
	case err == nil:
		return core.Wallet{}, core.ErrLinkingConflict
	case !errors.Is(err, ports.ErrNotFound):
		return core.Wallet{}, fmt.Errorf("failed to look up wallet: %w", err)
	}

	key, err := signature.SignerKey(cred.Family, cred.Signature, cred.PublicKey)
	if err != nil {
		return core.Wallet{}, c.rejected(ctx, "link", cred, fmt.Errorf("%w: %v", core.ErrSignatureInvalid, err))
	}

	now := c.now()
	wallet := core.Wallet{
		ID:          uuid.New().String(),
		UserID:      userID,
		Address:     address,
		Family:      cred.Family,
		WalletType:  walletType(cred),
		PublicKey:   key,
		FirstUsedAt: now,
		LastUsedAt:  now,
	}

	err = c.store.WithTx(ctx, func(tx ports.IdentityRepos) error {
		return tx.Wallets().Create(ctx, wallet)
	})
	if errors.Is(err, ports.ErrAlreadyExists) {
		return core.Wallet{}, core.ErrLinkingConflict
	}
	if err != nil {
		return core.Wallet{}, fmt.Errorf("failed to link wallet: %w", err)
	}

	c.logger.InfoContext(ctx, "wallet linked", "user_id", userID, "address", address, "primary", primary.Address)
	c.publish(ctx, ports.IdentityEvent{
		Kind:    ports.EventWalletLinked,
		UserID:  userID,
		Address: address,
		Family:  wallet.Family.String(),
		Method:  string(MatchExplicit),
	})

	return wallet, nil
}

// SetPrimaryWallet makes address the primary wallet of userID
func (c *Correlator) SetPrimaryWallet(ctx context.Context, userID, address string) (core.Wallet, error) {
	wallets, err := c.store.Wallets().ListByUser(ctx, userID)
	if err != nil {
		return core.Wallet{}, fmt.Errorf("failed to list wallets: %w", err)
	}

	idx := indexOfAddress(wallets, address)
	if idx < 0 {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	target := wallets[idx]
	if target.IsPrimary {
		return target, nil
	}

	err = c.store.WithTx(ctx, func(tx ports.IdentityRepos) error {
		return tx.Wallets().SetPrimary(ctx, userID, target.ID)
	})
	if err != nil {
		return core.Wallet{}, fmt.Errorf("failed to set primary wallet: %w", err)
	}

	target.IsPrimary = true
	return target, nil
}

// ListWallets returns the wallets of userID, primary first
func (c *Correlator) ListWallets(ctx context.Context, userID string) ([]core.Wallet, error) {
	wallets, err := c.store.Wallets().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

func primaryOf(wallets []core.Wallet) (core.Wallet, bool) {
	for _, w := range wallets {
		if w.IsPrimary {
			return w, true
		}
	}
	return core.Wallet{}, false
}

func indexOfAddress(wallets []core.Wallet, address string) int {
	for i, w := range wallets {
		if core.SameAddress(w.Family, w.Address, address) {
			return i
		}
	}
	return -1
}
