package core

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// WalletFamily identifies the signing scheme a wallet uses
type WalletFamily int

const (
	FamilyUnknown WalletFamily = iota
	FamilyEVM
	FamilyHedera
	FamilyCardano
)

// Families lists every supported wallet family
var Families = []WalletFamily{FamilyEVM, FamilyHedera, FamilyCardano}

func (f WalletFamily) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilyHedera:
		return "hedera"
	case FamilyCardano:
		return "cardano"
	default:
		return "unknown"
	}
}

// walletTypes maps wallet provider names onto their signing family
var walletTypes = map[string]WalletFamily{
	"EVM":          FamilyEVM,
	"METAMASK":     FamilyEVM,
	"BLADE_EVM":    FamilyEVM,
	"HEDERA":       FamilyHedera,
	"HASHPACK":     FamilyHedera,
	"KABILA":       FamilyHedera,
	"PORTAL":       FamilyHedera,
	"BLADE_NATIVE": FamilyHedera,
	"CARDANO":      FamilyCardano,
	"NAMI":         FamilyCardano,
	"ETERNL":       FamilyCardano,
	"LACE":         FamilyCardano,
	"FLINT":        FamilyCardano,
	"YOROI":        FamilyCardano,
	"TYPHON":       FamilyCardano,
	"GERO":         FamilyCardano,
	"VESPR":        FamilyCardano,
}

// ParseWalletType resolves a wallet provider name (e.g. "HASHPACK") or a family
// name (e.g. "evm") to its WalletFamily.
func ParseWalletType(walletType string) (WalletFamily, error) {
	family, ok := walletTypes[strings.ToUpper(strings.TrimSpace(walletType))]
	if !ok {
		return FamilyUnknown, fmt.Errorf("%w: %q", ErrUnsupportedWalletFamily, walletType)
	}
	return family, nil
}

// RequiresPublicKey reports whether the family cannot recover the signer from
// the signature alone.
func (f WalletFamily) RequiresPublicKey() bool {
	return f == FamilyHedera
}

// NormalizeAddress returns the canonical storage form of an address.
// EVM addresses are checksummed; other families are kept verbatim.
func NormalizeAddress(family WalletFamily, address string) string {
	address = strings.TrimSpace(address)
	if family == FamilyEVM && common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}

// SameAddress compares two addresses with the family's case rules
func SameAddress(family WalletFamily, a, b string) bool {
	if family == FamilyEVM {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
