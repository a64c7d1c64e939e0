package network

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gomint/apperr"
	"gomint/auth"
)

// Authenticator maps presented credentials to a wallet identity.
type Authenticator interface {
	Authenticate(creds auth.Credentials) (string, error)
}

// HandshakeOptions configures authentication and connection behavior for
// both transports.
type HandshakeOptions struct {
	Authenticator Authenticator

	ConnectionTimeout time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	SendQueueSize     int
	MaxFrameSize      int

	ConnectionRateLimitPerIP     int
	ConnectionRateLimitWindow    time.Duration
	OnInboundConnectionRateLimit func(remote string)
	OnAuthenticationFailure      func(remote string, err error)

	Logger *zap.Logger
}

func (o HandshakeOptions) withDefaults() HandshakeOptions {
	out := o
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = DefaultConnectionTimeout
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if out.KeepAliveTimeout <= 0 {
		out.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if out.SendQueueSize <= 0 {
		out.SendQueueSize = DefaultSendQueueSize
	}
	if out.MaxFrameSize <= 0 || out.MaxFrameSize > MaxFrameSize {
		out.MaxFrameSize = MaxFrameSize
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}

func (o HandshakeOptions) validate() error {
	if o.Authenticator == nil {
		return errors.New("authenticator is required")
	}
	return nil
}

// accept authenticates the peer on t and wraps it in a Connection. With preset
// credentials the challenge round trip is skipped.
func accept(t Transport, opts HandshakeOptions, preset *auth.Credentials) (*Connection, error) {
	identity, err := authenticate(t, opts, preset)
	if err != nil {
		if opts.OnAuthenticationFailure != nil {
			opts.OnAuthenticationFailure(t.RemoteAddr(), err)
		}
		if payload, encErr := EncodeError("", apperr.Code(err), apperr.PublicMessage(err)); encErr == nil {
			_ = t.WriteFrame(payload)
		}
		return nil, err
	}

	connection := NewConnection(t, ConnectionOptions{
		Identity:          identity,
		KeepAliveInterval: opts.KeepAliveInterval,
		KeepAliveTimeout:  opts.KeepAliveTimeout,
		SendQueueSize:     opts.SendQueueSize,
		Logger:            opts.Logger,
	})
	if err := connection.SendEvent(EventAuthenticated, Authenticated{
		Identity:     identity,
		ConnectionID: connection.ID(),
	}); err != nil {
		_ = connection.Close()
		return nil, err
	}
	return connection, nil
}

func authenticate(t Transport, opts HandshakeOptions, preset *auth.Credentials) (string, error) {
	if preset != nil {
		return opts.Authenticator.Authenticate(*preset)
	}

	if err := t.SetReadDeadline(time.Now().Add(opts.ConnectionTimeout)); err != nil {
		return "", fmt.Errorf("set handshake deadline: %w", err)
	}

	nonce, err := generateChallengeNonce()
	if err != nil {
		return "", fmt.Errorf("generate handshake challenge nonce: %w", err)
	}
	challenge, err := EncodeEvent(EventChallenge, Challenge{Nonce: nonce, Version: ProtocolVersion})
	if err != nil {
		return "", err
	}
	if err := t.WriteFrame(challenge); err != nil {
		return "", fmt.Errorf("write handshake challenge: %w", err)
	}

	payload, err := t.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("read handshake: %w", err)
	}
	in, err := DecodeInbound(payload)
	if err != nil {
		return "", fmt.Errorf("decode handshake: %v: %w", err, apperr.ErrUnauthorized)
	}
	if in.Event != EventAuthenticate {
		return "", fmt.Errorf("expected %q, got %q: %w", EventAuthenticate, in.Event, apperr.ErrUnauthorized)
	}

	var req AuthenticateRequest
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return "", fmt.Errorf("decode authenticate payload: %v: %w", err, apperr.ErrUnauthorized)
		}
	}

	identity, err := opts.Authenticator.Authenticate(auth.Credentials{
		Token:         req.Token,
		WalletAddress: req.WalletAddress,
		Signature:     req.Signature,
		Nonce:         nonce,
	})
	if err != nil {
		return "", err
	}

	if err := t.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("clear handshake deadline: %w", err)
	}
	return identity, nil
}

func generateChallengeNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(nonce), nil
}
