package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/walletauth/core"
	"github.com/stretchr/testify/require"
)

func TestSignerKeyHedera(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	want := hex.EncodeToString(pub)
	for _, key := range []string{want, "0x" + want, hex.EncodeToString(der)} {
		got, err := SignerKey(core.FamilyHedera, "", key)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	ecdsaKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	compressed := crypto.CompressPubkey(&ecdsaKey.PublicKey)
	got, err := SignerKey(core.FamilyHedera, "", hex.EncodeToString(crypto.FromECDSAPub(&ecdsaKey.PublicKey)))
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(compressed), got)

	_, err = SignerKey(core.FamilyHedera, "", "zz")
	require.Error(t, err)
}

func TestSignerKeyCardano(t *testing.T) {
	t.Parallel()

	w := newCardanoWallet(t)
	sig := mustCBOR(t, make([]byte, 64))

	fromMap, err := SignerKey(core.FamilyCardano, envelope(t, sig, w.coseKey(t)), "")
	require.NoError(t, err)
	fromBytes, err := SignerKey(core.FamilyCardano, envelope(t, sig, mustCBOR(t, []byte(w.pub))), "")
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(w.pub), fromMap)
	require.Equal(t, fromMap, fromBytes)

	_, err = SignerKey(core.FamilyCardano, "not json", "")
	require.Error(t, err)
}

func TestSameSigner(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	cred := core.Credentials{Family: core.FamilyHedera, PublicKey: hex.EncodeToString(der)}

	ok, err := SameSigner(cred, hex.EncodeToString(pub))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = SameSigner(cred, hex.EncodeToString(other))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = SameSigner(cred, "")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = SameSigner(core.Credentials{Family: core.FamilyEVM}, "")
	require.NoError(t, err)
	require.True(t, ok)
}
