package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const websocketWriteTimeout = 10 * time.Second

// Transport moves whole frames over one underlying connection. ReadFrame is
// called from a single goroutine, and so is WriteFrame.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

type tcpTransport struct {
	conn     net.Conn
	maxFrame int
	writeMu  sync.Mutex
}

// NewTCPTransport frames payloads with a 4-byte big-endian length prefix.
func NewTCPTransport(conn net.Conn, maxFrame int) Transport {
	if maxFrame <= 0 || maxFrame > MaxFrameSize {
		maxFrame = MaxFrameSize
	}
	return &tcpTransport{conn: conn, maxFrame: maxFrame}
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	return readFrameLimited(t.conn, t.maxFrame)
}

func (t *tcpTransport) WriteFrame(payload []byte) error {
	if len(payload) > t.maxFrame {
		return ErrFrameTooLarge
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return WriteFrame(t.conn, payload)
}

func (t *tcpTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

type wsTransport struct {
	conn    *websocket.Conn
	remote  string
	writeMu sync.Mutex
}

// NewWebSocketTransport carries one frame per text message.
func NewWebSocketTransport(conn *websocket.Conn, remote string, maxFrame int) Transport {
	if maxFrame <= 0 || maxFrame > MaxFrameSize {
		maxFrame = MaxFrameSize
	}
	conn.SetReadLimit(int64(maxFrame))
	if remote == "" {
		remote = conn.RemoteAddr().String()
	}
	return &wsTransport{conn: conn, remote: remote}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		messageType, payload, err := t.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read websocket message: %w", err)
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return payload, nil
		}
	}
}

func (t *wsTransport) WriteFrame(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return fmt.Errorf("set websocket write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write websocket message: %w", err)
	}
	return nil
}

func (t *wsTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *wsTransport) RemoteAddr() string {
	return t.remote
}

func (t *wsTransport) Close() error {
	// A writer stuck on a slow peer holds writeMu; skip the close frame then.
	if t.writeMu.TryLock() {
		_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
	}
	return t.conn.Close()
}
