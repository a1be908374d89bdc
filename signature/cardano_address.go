package signature

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

const keyHashSize = 28

// Shelley address header types whose first credential is a key hash (CIP-19)
var keyHashHeaders = map[byte]string{
	0x0: "base",
	0x2: "base",
	0x4: "pointer",
	0x6: "enterprise",
	0xe: "reward",
}

// addressKeyHash returns the first credential of a Shelley address, given in
// bech32 or hex, when that credential is a key hash.
func addressKeyHash(address string) ([]byte, string, error) {
	raw, err := decodeCardanoAddress(address)
	if err != nil {
		return nil, "", err
	}
	if len(raw) < 1+keyHashSize {
		return nil, "", fmt.Errorf("address is %d bytes", len(raw))
	}

	kind, ok := keyHashHeaders[raw[0]>>4]
	if !ok {
		return nil, "", fmt.Errorf("address type %d has no key hash credential", raw[0]>>4)
	}
	return raw[1 : 1+keyHashSize], kind, nil
}

func decodeCardanoAddress(address string) ([]byte, error) {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "addr") || strings.HasPrefix(address, "stake") {
		_, data, err := bech32.DecodeNoLimit(address)
		if err != nil {
			return nil, fmt.Errorf("decode bech32 address: %w", err)
		}
		return bech32.ConvertBits(data, 5, 8, false)
	}

	raw, err := hex.DecodeString(address)
	if err != nil {
		return nil, errors.New("address is neither bech32 nor hex")
	}
	return raw, nil
}

// keyHash is the Blake2b-224 digest identifying a verification key
func keyHash(pub []byte) []byte {
	h, _ := blake2b.New(keyHashSize, nil)
	h.Write(pub)
	return h.Sum(nil)
}

// keyMatchesAddress reports whether pub controls the key credential of address
func keyMatchesAddress(pub []byte, address string) (bool, string, error) {
	credential, kind, err := addressKeyHash(address)
	if err != nil {
		return false, "", err
	}
	return bytes.Equal(credential, keyHash(pub)), kind, nil
}
