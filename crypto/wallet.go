package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"gomint/apperr"
)

// DecodeWalletAddress decodes a base58 wallet address into its Ed25519 public key.
func DecodeWalletAddress(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode wallet address: %w", apperr.ErrInvalidArgument)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid wallet address length: got %d want %d: %w", len(raw), ed25519.PublicKeySize, apperr.ErrInvalidArgument)
	}
	return ed25519.PublicKey(raw), nil
}

// ValidWalletAddress reports whether address decodes to an Ed25519 public key.
func ValidWalletAddress(address string) bool {
	_, err := DecodeWalletAddress(address)
	return err == nil
}

// WalletAddress encodes an Ed25519 public key as a base58 wallet address.
func WalletAddress(publicKey ed25519.PublicKey) string {
	return base58.Encode(publicKey)
}

// VerifyWalletSignature checks a base58 signature produced by the wallet's key over message.
func VerifyWalletSignature(address string, message []byte, signature string) error {
	publicKey, err := DecodeWalletAddress(address)
	if err != nil {
		return err
	}
	rawSignature, err := base58.Decode(signature)
	if err != nil {
		return fmt.Errorf("decode wallet signature: %w", apperr.ErrUnauthorized)
	}
	return verify(publicKey, message, rawSignature)
}

// SignWalletMessage signs message with the wallet's private key and returns the
// base58 signature a wallet would present.
func SignWalletMessage(privateKey ed25519.PrivateKey, message []byte) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid wallet key length: got %d want %d: %w", len(privateKey), ed25519.PrivateKeySize, apperr.ErrInvalidArgument)
	}
	if len(message) == 0 {
		return "", fmt.Errorf("message to sign is empty: %w", apperr.ErrInvalidArgument)
	}
	return base58.Encode(ed25519.Sign(privateKey, message)), nil
}

func verify(publicKey ed25519.PublicKey, message, signature []byte) error {
	if len(message) == 0 {
		return fmt.Errorf("signed message is empty: %w", apperr.ErrUnauthorized)
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length: got %d want %d: %w", len(signature), ed25519.SignatureSize, apperr.ErrUnauthorized)
	}
	if !ed25519.Verify(publicKey, message, signature) {
		return fmt.Errorf("wallet signature mismatch: %w", apperr.ErrUnauthorized)
	}
	return nil
}
