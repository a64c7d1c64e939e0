package network

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"gomint/auth"
	"gomint/crypto"
)

// DialOptions selects how a Client proves its identity.
type DialOptions struct {
	Token         string
	WalletAddress string
	// PrivateKey signs the challenge for WalletAddress. Without it the wallet
	// is presented unsigned.
	PrivateKey      ed25519.PrivateKey
	ChallengePrefix string
	Timeout         time.Duration
}

// RemoteError is a server error frame surfaced to the caller.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error [%s]: %s", e.Code, e.Message)
}

// Client is an authenticated TCP session with a gateway. Send and Receive may
// be used from different goroutines.
type Client struct {
	conn net.Conn

	identity     string
	connectionID string

	writeMu sync.Mutex
}

// Dial connects to a TCP gateway and completes the handshake.
func Dial(address string, options DialOptions) (*Client, error) {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	prefix := options.ChallengePrefix
	if prefix == "" {
		prefix = auth.DefaultChallengePrefix
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}

	client := &Client{conn: conn}
	if err := client.handshake(options, prefix, timeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) handshake(options DialOptions, prefix string, timeout time.Duration) error {
	frame, err := c.Receive(timeout)
	if err != nil {
		return fmt.Errorf("read handshake challenge: %w", err)
	}
	if frame.Event != EventChallenge {
		return fmt.Errorf("expected %q, got %q", EventChallenge, frame.Event)
	}
	var challenge Challenge
	if err := json.Unmarshal(frame.Data, &challenge); err != nil {
		return fmt.Errorf("decode handshake challenge: %w", err)
	}
	if challenge.Version != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version %d", challenge.Version)
	}

	req := AuthenticateRequest{Token: options.Token, WalletAddress: options.WalletAddress}
	if len(options.PrivateKey) > 0 {
		if req.WalletAddress == "" {
			req.WalletAddress = crypto.WalletAddress(options.PrivateKey.Public().(ed25519.PublicKey))
		}
		signature, err := crypto.SignWalletMessage(options.PrivateKey, []byte(prefix+challenge.Nonce))
		if err != nil {
			return fmt.Errorf("sign handshake challenge: %w", err)
		}
		req.Signature = signature
	}
	if err := c.Send(EventAuthenticate, "", req); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}

	frame, err = c.Receive(timeout)
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	if frame.Event != EventAuthenticated {
		return fmt.Errorf("expected %q, got %q", EventAuthenticated, frame.Event)
	}
	var done Authenticated
	if err := json.Unmarshal(frame.Data, &done); err != nil {
		return fmt.Errorf("decode handshake response: %w", err)
	}
	c.identity = done.Identity
	c.connectionID = done.ConnectionID
	return nil
}

// Identity returns the wallet address the server authenticated.
func (c *Client) Identity() string { return c.identity }

// ConnectionID returns the server-assigned connection id.
func (c *Client) ConnectionID() string { return c.connectionID }

// Send writes one inbound frame.
func (c *Client) Send(event, id string, data any) error {
	in := Inbound{Event: event, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		in.Data = raw
	}
	payload, err := EncodeJSON(in)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, payload)
}

// Receive returns the next frame other than ping/pong. Server pings are
// answered automatically. An error frame without an id is returned as a
// *RemoteError.
func (c *Client) Receive(timeout time.Duration) (Frame, error) {
	for {
		payload, err := ReadFrameWithTimeout(c.conn, timeout)
		if err != nil {
			return Frame{}, err
		}
		frame, err := DecodeFrame(payload)
		if err != nil {
			return Frame{}, err
		}

		switch frame.Event {
		case EventPing:
			if err := c.Send(EventPong, "", nil); err != nil {
				return Frame{}, err
			}
			continue
		case EventPong:
			continue
		case EventError:
			if frame.ID == "" && frame.Error != nil {
				return frame, &RemoteError{Code: frame.Error.Code, Message: frame.Error.Message}
			}
		}
		return frame, nil
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return errors.New("client is not connected")
	}
	return c.conn.Close()
}
