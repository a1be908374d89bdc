package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/layer-3/walletauth/core"
)

// SignerKey returns the canonical lowercase hex form of the key that made a
// signature: the Hedera public key as raw bytes (DER and raw forms of one key
// agree), or the Ed25519 key inside a Cardano envelope. EVM signers are bound
// by address recovery and yield an empty key.
func SignerKey(family core.WalletFamily, signature, publicKey string) (string, error) {
	switch family {
	case core.FamilyEVM:
		return "", nil
	case core.FamilyHedera:
		return NormalizeKey(family, publicKey)
	case core.FamilyCardano:
		var env cardanoEnvelope
		if err := json.Unmarshal([]byte(signature), &env); err != nil {
			return "", errors.New("signature is not a JSON envelope")
		}
		raw, err := decodeHex(env.Key)
		if err != nil {
			return "", fmt.Errorf("key is not hex: %w", err)
		}
		pub, _, err := decodeCOSEKey(raw)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(pub), nil
	default:
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedWalletFamily, family)
	}
}

// NormalizeKey canonicalizes a recorded public key of family
func NormalizeKey(family core.WalletFamily, key string) (string, error) {
	switch family {
	case core.FamilyEVM:
		return "", nil
	case core.FamilyHedera:
		parsed, err := parseHederaKey(key)
		if err != nil {
			return "", err
		}
		switch k := parsed.(type) {
		case ed25519.PublicKey:
			return hex.EncodeToString(k), nil
		case secp256k1Key:
			return hex.EncodeToString(k), nil
		}
		return "", errors.New("unsupported key type")
	case core.FamilyCardano:
		raw, err := decodeHex(key)
		if err != nil {
			return "", err
		}
		if len(raw) != ed25519.PublicKeySize {
			return "", fmt.Errorf("ed25519 key must be 32 bytes, got %d", len(raw))
		}
		return hex.EncodeToString(raw), nil
	default:
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedWalletFamily, family)
	}
}

// SameSigner reports whether the signature in cred was made by recorded, the
// key stored for the wallet. A wallet of a key-bound family with no recorded
// key never matches.
func SameSigner(cred core.Credentials, recorded string) (bool, error) {
	submitted, err := SignerKey(cred.Family, cred.Signature, cred.PublicKey)
	if err != nil {
		return false, err
	}
	if cred.Family == core.FamilyEVM {
		return true, nil
	}
	if recorded == "" {
		return false, nil
	}
	stored, err := NormalizeKey(cred.Family, recorded)
	if err != nil {
		return false, fmt.Errorf("recorded key: %w", err)
	}
	return submitted == stored, nil
}
