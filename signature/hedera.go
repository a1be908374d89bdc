package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/walletauth/core"
)

var (
	// DER SubjectPublicKeyInfo prefixes of compressed secp256k1 keys as
	// produced by the Hedera SDKs
	ecdsaLegacyDERPrefix = mustHex("302d300706052b8104000a032200")
	ecdsaDERPrefix       = mustHex("3036301006072a8648ce3d020106052b8104000a032200")
)

// HederaVerifier checks signatures made by native Hedera account keys.
// Ed25519 keys sign the raw message bytes; ECDSA secp256k1 keys sign the
// Keccak-256 hash of the message.
type HederaVerifier struct{}

func (*HederaVerifier) Family() core.WalletFamily { return core.FamilyHedera }

// Verify checks req.Signature over req.Message with req.PublicKey
func (*HederaVerifier) Verify(req Request) Result {
	if strings.TrimSpace(req.PublicKey) == "" {
		return invalid("public key required")
	}

	key, err := parseHederaKey(req.PublicKey)
	if err != nil {
		return invalid("unparseable public key", slog.String("error", err.Error()))
	}

	sig, err := decodeHex(req.Signature)
	if err != nil {
		return invalid("signature is not hex")
	}

	switch k := key.(type) {
	case ed25519.PublicKey:
		if len(sig) != ed25519.SignatureSize {
			return invalid("ed25519 signature must be 64 bytes", slog.Int("length", len(sig)))
		}
		if !ed25519.Verify(k, []byte(req.Message), sig) {
			return invalid("ed25519 verification failed", slog.String("key_type", "ed25519"))
		}
		return valid(slog.String("key_type", "ed25519"))
	case secp256k1Key:
		if len(sig) != 64 {
			return invalid("ecdsa signature must be 64 bytes", slog.Int("length", len(sig)))
		}
		if !crypto.VerifySignature(k, crypto.Keccak256([]byte(req.Message)), sig) {
			return invalid("ecdsa verification failed", slog.String("key_type", "ecdsa_secp256k1"))
		}
		return valid(slog.String("key_type", "ecdsa_secp256k1"))
	default:
		return invalid("unsupported key type")
	}
}

// secp256k1Key is a compressed secp256k1 public key
type secp256k1Key []byte

// parseHederaKey decodes the string forms accepted by PublicKey.fromString:
// raw hex or DER hex, Ed25519 or ECDSA secp256k1.
func parseHederaKey(s string) (any, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, err
	}

	switch {
	case len(raw) == ed25519.PublicKeySize:
		return ed25519.PublicKey(raw), nil
	case len(raw) == 33:
		return compressedKey(raw)
	case len(raw) == 65 && raw[0] == 0x04:
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return nil, err
		}
		return secp256k1Key(crypto.CompressPubkey(pub)), nil
	case bytes.HasPrefix(raw, ecdsaLegacyDERPrefix):
		return compressedKey(raw[len(ecdsaLegacyDERPrefix):])
	case bytes.HasPrefix(raw, ecdsaDERPrefix):
		return compressedKey(raw[len(ecdsaDERPrefix):])
	}

	pub, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse DER public key: %w", err)
	}
	ed, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported DER key type %T", pub)
	}
	return ed, nil
}

func compressedKey(raw []byte) (secp256k1Key, error) {
	if len(raw) != 33 {
		return nil, errors.New("compressed key must be 33 bytes")
	}
	if _, err := crypto.DecompressPubkey(raw); err != nil {
		return nil, err
	}
	return secp256k1Key(raw), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, errors.New("empty hex string")
	}
	return hex.DecodeString(s)
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
