// Package auth runs the wallet challenge/response verification pipeline.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/layer-3/walletauth/challenge"
	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/signature"
)

// NonceConsumer removes a nonce and returns the address it was issued for
type NonceConsumer interface {
	Consume(ctx context.Context, nonce string) (string, error)
}

// SignatureVerifier dispatches a signature check to a wallet family
type SignatureVerifier interface {
	Verify(family core.WalletFamily, req signature.Request) (signature.Result, error)
}

// Authenticator proves that the holder of a wallet signed a fresh challenge.
//
// The nonce is consumed before the message is validated and before the
// signature is checked. A request that fails later still burns its nonce, so
// a captured message can never be replayed, whatever its verification outcome.
type Authenticator struct {
	nonces   NonceConsumer
	codec    *challenge.Codec
	verifier SignatureVerifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(nonces NonceConsumer, codec *challenge.Codec, verifier SignatureVerifier, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		nonces:   nonces,
		codec:    codec,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Authenticate verifies cred. Cosigners must each have signed cred.Message
// too; their Message field is ignored. The returned error wraps one of
// ErrInvalidNonce, ErrMalformedChallenge, ErrSignatureInvalid,
// ErrUnsupportedWalletFamily or ErrInfrastructureUnavailable.
func (a *Authenticator) Authenticate(ctx context.Context, cred core.Credentials, cosigners ...core.Credentials) error {
	nonce, err := challenge.ExtractNonce(cred.Message)
	if err != nil {
		return err
	}

	// Consume first: from here on the message is spent
	bound, err := a.nonces.Consume(ctx, nonce)
	if err != nil {
		return err
	}

	err = a.codec.Validate(cred.Message, challenge.Expectation{
		Address:  cred.Address,
		Nonce:    nonce,
		Now:      a.now(),
		FoldCase: cred.Family == core.FamilyEVM,
	})
	if err != nil {
		return err
	}

	if !core.SameAddress(cred.Family, bound, cred.Address) {
		return fmt.Errorf("%w: nonce was issued for another address", core.ErrInvalidNonce)
	}

	if err := a.verify(ctx, cred, cred.Message); err != nil {
		return err
	}
	for _, cosigner := range cosigners {
		if err := a.verify(ctx, cosigner, cred.Message); err != nil {
			return fmt.Errorf("cosigner %s: %w", cosigner.Address, err)
		}
	}

	return nil
}

func (a *Authenticator) verify(ctx context.Context, cred core.Credentials, message string) error {
	if cred.Family.RequiresPublicKey() && cred.PublicKey == "" {
		return fmt.Errorf("%w: %s wallet requires a public key", core.ErrSignatureInvalid, cred.Family)
	}

	res, err := a.verifier.Verify(cred.Family, signature.Request{
		Address:   cred.Address,
		Message:   message,
		Signature: cred.Signature,
		PublicKey: cred.PublicKey,
	})
	if err != nil {
		return err
	}

	attrs := append([]slog.Attr{
		slog.String("family", cred.Family.String()),
		slog.String("address", cred.Address),
	}, res.LogAttrs()...)

	if !res.Valid {
		a.logger.LogAttrs(ctx, slog.LevelWarn, "signature rejected", attrs...)
		return fmt.Errorf("%w: %s: %s", core.ErrSignatureInvalid, cred.Family, res.Reason)
	}

	a.logger.LogAttrs(ctx, slog.LevelDebug, "signature verified", attrs...)
	return nil
}
