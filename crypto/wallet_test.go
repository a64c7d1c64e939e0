package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomint/apperr"
)

func newWallet(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address := WalletAddress(publicKey)
	require.True(t, ValidWalletAddress(address))
	return address, privateKey
}

func TestVerifyWalletSignature(t *testing.T) {
	address, privateKey := newWallet(t)
	message := []byte("gomint-auth:nonce-1")

	signature, err := SignWalletMessage(privateKey, message)
	require.NoError(t, err)
	require.NoError(t, VerifyWalletSignature(address, message, signature))

	err = VerifyWalletSignature(address, []byte("gomint-auth:nonce-2"), signature)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestVerifyWalletSignatureRejectsTamperedSignature(t *testing.T) {
	address, privateKey := newWallet(t)
	message := []byte("gomint-auth:nonce-1")

	signature, err := SignWalletMessage(privateKey, message)
	require.NoError(t, err)
	raw, err := base58.Decode(signature)
	require.NoError(t, err)
	raw[0] ^= 0x01

	err = VerifyWalletSignature(address, message, base58.Encode(raw))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	err = VerifyWalletSignature(address, message, base58.Encode(raw[:10]))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestVerifyWalletSignatureRejectsMalformedBase58(t *testing.T) {
	address, _ := newWallet(t)

	err := VerifyWalletSignature(address, []byte("gomint-auth:nonce-1"), "0OIl+/")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestVerifyWalletSignatureRejectsOtherWallet(t *testing.T) {
	address, _ := newWallet(t)
	_, otherKey := newWallet(t)
	message := []byte("gomint-auth:nonce-1")

	signature, err := SignWalletMessage(otherKey, message)
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyWalletSignature(address, message, signature), apperr.ErrUnauthorized)
}

func TestSignWalletMessageValidatesInput(t *testing.T) {
	_, err := SignWalletMessage(ed25519.PrivateKey("short"), []byte("m"))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, privateKey := newWallet(t)
	_, err = SignWalletMessage(privateKey, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestDecodeWalletAddressRejectsGarbage(t *testing.T) {
	_, err := DecodeWalletAddress("0OIl")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = DecodeWalletAddress(base58.Encode([]byte("too short")))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.False(t, ValidWalletAddress(""))
}
