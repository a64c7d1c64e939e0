package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomint/apperr"
	"gomint/crypto"
	"gomint/storage"
)

type memoryUsers struct {
	known map[string]bool
}

func (m *memoryUsers) Lookup(wallet string) (storage.User, error) {
	if !m.known[wallet] {
		return storage.User{}, storage.ErrNotFound
	}
	return storage.User{WalletAddress: wallet}, nil
}

func (m *memoryUsers) Register(wallet string) (storage.User, error) {
	m.known[wallet] = true
	return storage.User{WalletAddress: wallet}, nil
}

func newUsers(wallets ...string) *memoryUsers {
	users := &memoryUsers{known: map[string]bool{}}
	for _, w := range wallets {
		users.known[w] = true
	}
	return users
}

func TestTokenAuthentication(t *testing.T) {
	a := NewAuthenticator(Options{JWTSecret: "s3cret"}, newUsers("alice"), nil)

	token, err := a.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	wallet, err := a.Authenticate(Credentials{Token: token})
	require.NoError(t, err)
	assert.Equal(t, "alice", wallet)

	other := NewAuthenticator(Options{JWTSecret: "different"}, newUsers("alice"), nil)
	_, err = other.Authenticate(Credentials{Token: token})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	expired, err := a.IssueToken("alice", -time.Minute)
	require.NoError(t, err)
	_, err = a.Authenticate(Credentials{Token: expired})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestTokenWithoutWalletClaimIsRejected(t *testing.T) {
	a := NewAuthenticator(Options{JWTSecret: "s3cret"}, newUsers("alice"), nil)

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = a.Authenticate(Credentials{Token: raw})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestSignedWalletAuthentication(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	wallet := crypto.WalletAddress(publicKey)

	a := NewAuthenticator(Options{AutoRegister: true}, newUsers(), nil)
	nonce := "bm9uY2U="
	signature := ed25519.Sign(privateKey, a.ChallengeMessage(nonce))

	got, err := a.Authenticate(Credentials{WalletAddress: wallet, Signature: base58.Encode(signature), Nonce: nonce})
	require.NoError(t, err)
	assert.Equal(t, wallet, got)

	_, err = a.Authenticate(Credentials{WalletAddress: wallet, Signature: base58.Encode(signature), Nonce: "other"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = a.Authenticate(Credentials{WalletAddress: "not-a-wallet", Signature: base58.Encode(signature), Nonce: nonce})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUnsignedWalletRequiresOptIn(t *testing.T) {
	strict := NewAuthenticator(Options{}, newUsers("alice"), nil)
	_, err := strict.Authenticate(Credentials{WalletAddress: "alice"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	lenient := NewAuthenticator(Options{AllowUnsignedWallet: true}, newUsers("alice"), nil)
	wallet, err := lenient.Authenticate(Credentials{WalletAddress: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", wallet)

	_, err = lenient.Authenticate(Credentials{WalletAddress: "bob"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "unknown identity without auto register")

	_, err = lenient.Authenticate(Credentials{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
