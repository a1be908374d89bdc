// Package signature verifies wallet signatures over challenge messages for
// every supported wallet family.
//
// Verifiers are pure and safe for concurrent use. They never return an error:
// anything that goes wrong while decoding or verifying yields an invalid
// Result carrying the reason, which is meant for logs only.
package signature

import (
	"fmt"
	"log/slog"

	"github.com/layer-3/walletauth/core"
)

// Request is a signature to check against a claimed signer
type Request struct {
	Address   string
	Message   string
	Signature string
	PublicKey string
}

// Result is the outcome of a verification
type Result struct {
	Valid  bool
	Reason string
	Attrs  []slog.Attr
}

func valid(attrs ...slog.Attr) Result {
	return Result{Valid: true, Attrs: attrs}
}

func invalid(reason string, attrs ...slog.Attr) Result {
	return Result{Reason: reason, Attrs: attrs}
}

// LogAttrs returns the result as log attributes
func (r Result) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(r.Attrs)+2)
	attrs = append(attrs, slog.Bool("valid", r.Valid))
	if r.Reason != "" {
		attrs = append(attrs, slog.String("reason", r.Reason))
	}
	return append(attrs, r.Attrs...)
}

// Verifier checks signatures for one wallet family
type Verifier interface {
	Family() core.WalletFamily
	Verify(req Request) Result
}

// Registry dispatches to the verifier of a wallet family
type Registry struct {
	evm     *EVMVerifier
	hedera  *HederaVerifier
	cardano *CardanoVerifier
}

// NewRegistry creates a registry with one verifier per family
func NewRegistry(cardanoOpts ...CardanoOption) *Registry {
	return &Registry{
		evm:     &EVMVerifier{},
		hedera:  &HederaVerifier{},
		cardano: NewCardanoVerifier(cardanoOpts...),
	}
}

// For returns the verifier of family
func (r *Registry) For(family core.WalletFamily) (Verifier, error) {
	switch family {
	case core.FamilyEVM:
		return r.evm, nil
	case core.FamilyHedera:
		return r.hedera, nil
	case core.FamilyCardano:
		return r.cardano, nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedWalletFamily, family)
	}
}

// Verify checks req with the verifier of family
func (r *Registry) Verify(family core.WalletFamily, req Request) (Result, error) {
	v, err := r.For(family)
	if err != nil {
		return Result{}, err
	}
	return v.Verify(req), nil
}
