package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion = 1
	// MaxFrameSize is the maximum accepted frame payload size (1 MB).
	MaxFrameSize = 1 << 20
	// DefaultConnectionTimeout bounds the authentication handshake.
	DefaultConnectionTimeout = 30 * time.Second
	// DefaultKeepAliveInterval sends ping on idle connections.
	DefaultKeepAliveInterval = 30 * time.Second
	// DefaultKeepAliveTimeout waits this long for pong after ping.
	DefaultKeepAliveTimeout = 15 * time.Second
	// DefaultSendQueueSize bounds frames waiting for one connection's writer.
	DefaultSendQueueSize = 256
)

const (
	EventChallenge     = "challenge"
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventPing          = "ping"
	EventPong          = "pong"
	EventAck           = "ack"
	EventError         = "error"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("network: frame exceeds max size")
	// ErrInvalidEvent indicates the event name is missing.
	ErrInvalidEvent = errors.New("network: invalid event")
)

// Inbound is a client-to-server frame.
type Inbound struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server-to-client frame. Error is set only on error frames.
type Outbound struct {
	Event string     `json:"event"`
	ID    string     `json:"id,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the tagged failure carried by an error frame.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame is the decoded view of any frame, used by clients.
type Frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// Challenge opens the handshake.
type Challenge struct {
	Nonce   string `json:"nonce"`
	Version int    `json:"version"`
}

// AuthenticateRequest answers a Challenge.
type AuthenticateRequest struct {
	Token         string `json:"token,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

// Authenticated closes a successful handshake.
type Authenticated struct {
	Identity     string `json:"identity"`
	ConnectionID string `json:"connectionId"`
}

// EncodeJSON marshals a protocol message to JSON.
func EncodeJSON(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol message: %w", err)
	}
	return payload, nil
}

// EncodeEvent builds an outbound event frame.
func EncodeEvent(event string, data any) ([]byte, error) {
	return EncodeJSON(Outbound{Event: event, Data: data})
}

// EncodeAck builds the success reply to the inbound frame with the given id.
func EncodeAck(id string, data any) ([]byte, error) {
	return EncodeJSON(Outbound{Event: EventAck, ID: id, Data: data})
}

// EncodeError builds an error frame. id may be empty.
func EncodeError(id, code, message string) ([]byte, error) {
	return EncodeJSON(Outbound{Event: EventError, ID: id, Error: &ErrorBody{Code: code, Message: message}})
}

// DecodeInbound parses a client frame.
func DecodeInbound(payload []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}
	if in.Event == "" {
		return Inbound{}, ErrInvalidEvent
	}
	return in, nil
}

// DecodeFrame parses any frame.
func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, ErrInvalidEvent
	}
	return f, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrameLimited(r, MaxFrameSize)
}

// ReadFrameWithTimeout reads a frame with an optional read deadline.
func ReadFrameWithTimeout(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}
	return ReadFrame(conn)
}

func readFrameLimited(r io.Reader, limit int) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if int64(length) > int64(limit) {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}
