package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"gomint/apperr"
)

const (
	// KeySize is the raw length of a generated message key (256 bits).
	KeySize = 32
	// SaltSize is the PBKDF2 salt length generated per Encrypt call.
	SaltSize = 16
	// IVSize is the AES-GCM nonce length (96 bits).
	IVSize = 12
	// TagSize is the AES-GCM authentication tag length.
	TagSize = 16
	// KDFIterations is the PBKDF2-SHA256 iteration count for working keys.
	KDFIterations = 100_000
)

// Envelope is the output of one Encrypt call. All fields are base64 (standard encoding).
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// Engine performs per-message envelope encryption. It holds no key material.
type Engine struct {
	random io.Reader
}

// NewEngine returns an Engine reading randomness from crypto/rand.
func NewEngine() *Engine {
	return &Engine{random: rand.Reader}
}

// GenerateKey returns a fresh 256-bit key encoded as lowercase hex.
func (e *Engine) GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(e.random, key); err != nil {
		return "", fmt.Errorf("generate message key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt derives a working key from key and a fresh salt, then seals plaintext
// with AES-256-GCM under a fresh IV.
func (e *Engine) Encrypt(plaintext, key string) (Envelope, error) {
	secret, err := hex.DecodeString(key)
	if err != nil || len(secret) == 0 {
		return Envelope{}, fmt.Errorf("decode message key: %w", apperr.ErrInvalidArgument)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(e.random, salt); err != nil {
		return Envelope{}, fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(e.random, iv); err != nil {
		return Envelope{}, fmt.Errorf("generate iv: %w", err)
	}

	aead, err := newAEAD(deriveWorkingKey(secret, salt))
	if err != nil {
		return Envelope{}, err
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(body),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt re-derives the working key from the stored salt and opens the envelope.
// Any malformed component or tag mismatch fails with apperr.ErrIntegrity.
func (e *Engine) Decrypt(envelope Envelope, key string) (string, error) {
	secret, err := hex.DecodeString(key)
	if err != nil || len(secret) == 0 {
		return "", fmt.Errorf("decode message key: %w", apperr.ErrIntegrity)
	}
	salt, err := decodeComponent("salt", envelope.Salt, SaltSize)
	if err != nil {
		return "", err
	}
	iv, err := decodeComponent("iv", envelope.IV, IVSize)
	if err != nil {
		return "", err
	}
	tag, err := decodeComponent("tag", envelope.Tag, TagSize)
	if err != nil {
		return "", err
	}
	body, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", apperr.ErrIntegrity)
	}

	aead, err := newAEAD(deriveWorkingKey(secret, salt))
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(body)+len(tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open envelope: %w", apperr.ErrIntegrity)
	}

	return string(plaintext), nil
}

func deriveWorkingKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, KDFIterations, KeySize, sha256.New)
}

func newAEAD(workingKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(workingKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

func decodeComponent(name, value string, size int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, apperr.ErrIntegrity)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("invalid %s length: got %d want %d: %w", name, len(raw), size, apperr.ErrIntegrity)
	}
	return raw, nil
}
