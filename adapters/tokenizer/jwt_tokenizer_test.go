package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/ports"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func newGrant(expiresIn time.Duration) *ports.AccessGrant {
	now := time.Now().Truncate(time.Second)
	return &ports.AccessGrant{
		TokenID:   uuid.New().String(),
		UserID:    uuid.New().String(),
		SessionID: uuid.New().String(),
		Address:   "0.0.1234",
		IssuedAt:  now,
		ExpiresAt: now.Add(expiresIn),
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()

	tok := NewJWTTokenizer(newKey(t))
	grant := newGrant(15 * time.Minute)

	token, err := tok.GrantToAccessToken(grant)
	require.NoError(t, err)

	got, err := tok.AccessTokenToGrant(token)
	require.NoError(t, err)
	require.Equal(t, grant.TokenID, got.TokenID)
	require.Equal(t, grant.UserID, got.UserID)
	require.Equal(t, grant.SessionID, got.SessionID)
	require.Equal(t, grant.Address, got.Address)
	require.True(t, grant.IssuedAt.Equal(got.IssuedAt))
	require.True(t, grant.ExpiresAt.Equal(got.ExpiresAt))
}

func TestAccessTokenRejected(t *testing.T) {
	t.Parallel()

	key := newKey(t)
	tok := NewJWTTokenizer(key)

	t.Run("expired", func(t *testing.T) {
		token, err := tok.GrantToAccessToken(newGrant(-time.Minute))
		require.NoError(t, err)

		_, err = tok.AccessTokenToGrant(token)
		require.ErrorIs(t, err, core.ErrTokenExpired)
	})

	t.Run("signed by another key", func(t *testing.T) {
		token, err := NewJWTTokenizer(newKey(t)).GrantToAccessToken(newGrant(time.Minute))
		require.NoError(t, err)

		_, err = tok.AccessTokenToGrant(token)
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
				Audience:  jwt.ClaimStrings{"session:refresh"},
			},
			SessionID: "sid",
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
		require.NoError(t, err)

		_, err = tok.AccessTokenToGrant(token)
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("hmac algorithm", func(t *testing.T) {
		claims := AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
				Audience:  jwt.ClaimStrings{AudienceAccess},
			},
			SessionID: "sid",
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = tok.AccessTokenToGrant(token)
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("missing session", func(t *testing.T) {
		grant := newGrant(time.Minute)
		grant.SessionID = ""
		token, err := tok.GrantToAccessToken(grant)
		require.NoError(t, err)

		_, err = tok.AccessTokenToGrant(token)
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tok.AccessTokenToGrant("not.a.jwt")
		require.ErrorIs(t, err, core.ErrInvalidToken)
	})
}

func TestLoadSigningKey(t *testing.T) {
	t.Parallel()

	t.Run("ephemeral", func(t *testing.T) {
		key, err := LoadSigningKey("")
		require.NoError(t, err)
		require.Equal(t, elliptic.P256(), key.Curve)
	})

	t.Run("from pem file", func(t *testing.T) {
		key := newKey(t)
		der, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "signing.pem")
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600))

		loaded, err := LoadSigningKey(path)
		require.NoError(t, err)
		require.True(t, key.Equal(loaded))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSigningKey(filepath.Join(t.TempDir(), "nope.pem"))
		require.Error(t, err)
	})
}
