// Package auth decides which wallet identity a connection speaks for.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"gomint/apperr"
	"gomint/crypto"
	"gomint/storage"
)

// DefaultChallengePrefix is prepended to the handshake nonce before signing.
const DefaultChallengePrefix = "gomint-auth:"

// Credentials are presented by a client during the handshake.
type Credentials struct {
	Token         string
	WalletAddress string
	Signature     string
	// Nonce is the challenge issued to this connection; empty when the
	// credentials arrived on the upgrade request.
	Nonce string
}

// Claims carried by access tokens.
type Claims struct {
	WalletAddress string `json:"wallet_address"`
	jwt.RegisteredClaims
}

type Options struct {
	JWTSecret           string
	AllowUnsignedWallet bool
	AutoRegister        bool
	ChallengePrefix     string
}

// Users resolves and registers identities.
type Users interface {
	Lookup(walletAddress string) (storage.User, error)
	Register(walletAddress string) (storage.User, error)
}

type Authenticator struct {
	opts   Options
	users  Users
	logger *zap.Logger
}

func NewAuthenticator(opts Options, users Users, logger *zap.Logger) *Authenticator {
	if opts.ChallengePrefix == "" {
		opts.ChallengePrefix = DefaultChallengePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{opts: opts, users: users, logger: logger.Named("auth")}
}

// ChallengeMessage returns the bytes a wallet signs to answer nonce.
func (a *Authenticator) ChallengeMessage(nonce string) []byte {
	return []byte(a.opts.ChallengePrefix + nonce)
}

// Authenticate returns the wallet address the credentials prove, or an error
// wrapping apperr.ErrUnauthorized.
func (a *Authenticator) Authenticate(creds Credentials) (string, error) {
	var (
		wallet string
		err    error
	)
	switch {
	case strings.TrimSpace(creds.Token) != "":
		wallet, err = a.verifyToken(creds.Token)
	case strings.TrimSpace(creds.WalletAddress) != "":
		wallet, err = a.verifyWallet(creds)
	default:
		err = fmt.Errorf("no credentials presented: %w", apperr.ErrUnauthorized)
	}
	if err != nil {
		return "", err
	}

	if _, err := a.users.Lookup(wallet); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}
		if !a.opts.AutoRegister {
			return "", fmt.Errorf("unknown identity %s: %w", wallet, apperr.ErrUnauthorized)
		}
		if _, err := a.users.Register(wallet); err != nil {
			return "", err
		}
	}

	return wallet, nil
}

// IssueToken signs an access token for wallet valid for ttl.
func (a *Authenticator) IssueToken(wallet string, ttl time.Duration) (string, error) {
	if a.opts.JWTSecret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		WalletAddress: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.opts.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (a *Authenticator) verifyToken(raw string) (string, error) {
	if a.opts.JWTSecret == "" {
		return "", fmt.Errorf("token authentication disabled: %w", apperr.ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.opts.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		a.logger.Debug("token rejected", zap.Error(err))
		return "", fmt.Errorf("invalid token: %w", apperr.ErrUnauthorized)
	}

	claims := token.Claims.(*Claims)
	if claims.WalletAddress == "" {
		return "", fmt.Errorf("token has no wallet_address claim: %w", apperr.ErrUnauthorized)
	}
	return claims.WalletAddress, nil
}

func (a *Authenticator) verifyWallet(creds Credentials) (string, error) {
	wallet := strings.TrimSpace(creds.WalletAddress)

	if creds.Signature == "" {
		if !a.opts.AllowUnsignedWallet {
			return "", fmt.Errorf("wallet signature required: %w", apperr.ErrUnauthorized)
		}
		return wallet, nil
	}
	if creds.Nonce == "" {
		return "", fmt.Errorf("wallet signature without challenge: %w", apperr.ErrUnauthorized)
	}
	if err := crypto.VerifyWalletSignature(wallet, a.ChallengeMessage(creds.Nonce), creds.Signature); err != nil {
		if errors.Is(err, apperr.ErrInvalidArgument) {
			return "", fmt.Errorf("malformed wallet address: %w", apperr.ErrUnauthorized)
		}
		return "", err
	}
	return wallet, nil
}
