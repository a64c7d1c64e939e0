package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrPongTimeout indicates keep-alive timed out waiting for pong.
	ErrPongTimeout = errors.New("network: pong timeout")
	// ErrSlowConsumer indicates the connection's send queue overflowed.
	ErrSlowConsumer = errors.New("network: send queue full")
	// ErrConnectionClosed is returned by Send after the connection closed.
	ErrConnectionClosed = errors.New("network: connection closed")
)

// ConnectionState represents the lifecycle state of one client connection.
type ConnectionState string

const (
	StateReady        ConnectionState = "READY"
	StateIdle         ConnectionState = "IDLE"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

// ConnectionOptions controls runtime behavior of Connection.
type ConnectionOptions struct {
	ID                string
	Identity          string
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	SendQueueSize     int
	Logger            *zap.Logger
}

// Connection is one authenticated client session. Outbound frames go through a
// bounded queue drained by a single writer; inbound frames are delivered in
// arrival order through Receive.
type Connection struct {
	transport Transport

	id       string
	identity string

	stateMu sync.RWMutex
	state   ConnectionState

	waitMu       sync.Mutex
	waitingPong  bool
	pongDeadline time.Time

	lastActivity atomic.Int64

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration

	send    chan []byte
	inbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error

	logger *zap.Logger
}

// NewConnection wraps an authenticated transport and starts its loops.
func NewConnection(transport Transport, options ConnectionOptions) *Connection {
	interval := options.KeepAliveInterval
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	timeout := options.KeepAliveTimeout
	if timeout <= 0 {
		timeout = DefaultKeepAliveTimeout
	}
	queueSize := options.SendQueueSize
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}
	id := options.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Connection{
		transport:         transport,
		id:                id,
		identity:          options.Identity,
		keepAliveInterval: interval,
		keepAliveTimeout:  timeout,
		send:              make(chan []byte, queueSize),
		inbound:           make(chan []byte, 64),
		closed:            make(chan struct{}),
		state:             StateReady,
		logger: logger.With(
			zap.String("connection_id", id),
			zap.String("identity", options.Identity),
		),
	}

	c.touchActivity()
	go c.readLoop()
	go c.writeLoop()
	go c.keepAliveLoop()

	return c
}

func (c *Connection) ID() string { return c.id }

// Identity returns the wallet address the connection authenticated as.
func (c *Connection) Identity() string { return c.identity }

func (c *Connection) RemoteAddr() string { return c.transport.RemoteAddr() }

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Done is closed when the connection is fully disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// LastError returns the terminal connection error, if any.
func (c *Connection) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// Send enqueues a pre-encoded frame without blocking. A full queue closes the
// connection with ErrSlowConsumer.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("send queue full, dropping connection", zap.Int("queue_size", cap(c.send)))
		c.closeWithError(ErrSlowConsumer)
		return ErrSlowConsumer
	}
}

// SendEvent encodes and enqueues one event frame.
func (c *Connection) SendEvent(event string, data any) error {
	payload, err := EncodeEvent(event, data)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Receive waits for the next non-keepalive inbound frame.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-c.inbound:
		return payload, nil
	case <-c.closed:
		if err := c.LastError(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the connection.
func (c *Connection) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Connection) readLoop() {
	for {
		payload, err := c.transport.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.isClosed() {
				c.closeWithError(nil)
				return
			}
			c.closeWithError(fmt.Errorf("read frame: %w", err))
			return
		}

		c.touchActivity()
		if len(payload) == 0 {
			continue
		}

		switch peekEvent(payload) {
		case EventPing:
			c.setState(StateIdle)
			_ = c.SendEvent(EventPong, nil)
		case EventPong:
			c.ackPong()
			c.setState(StateIdle)
		default:
			c.setState(StateReady)
			select {
			case c.inbound <- payload:
			case <-c.closed:
				return
			}
		}
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case payload := <-c.send:
			if err := c.transport.WriteFrame(payload); err != nil {
				c.closeWithError(fmt.Errorf("write frame: %w", err))
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) keepAliveLoop() {
	checkEvery := c.keepAliveInterval / 2
	if checkEvery <= 0 {
		checkEvery = c.keepAliveInterval
	}
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.waitingPongExpired() {
				c.closeWithError(ErrPongTimeout)
				return
			}

			idleFor := time.Since(time.Unix(0, c.lastActivity.Load()))
			if idleFor < c.keepAliveInterval {
				continue
			}
			if c.isWaitingPong() {
				continue
			}

			if err := c.SendEvent(EventPing, nil); err != nil {
				return
			}
			c.setWaitingPong(time.Now().Add(c.keepAliveTimeout))
			c.setState(StateIdle)
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.state = state
}

func (c *Connection) touchActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) setWaitingPong(deadline time.Time) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	c.waitingPong = true
	c.pongDeadline = deadline
}

func (c *Connection) ackPong() {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	c.waitingPong = false
	c.pongDeadline = time.Time{}
}

func (c *Connection) isWaitingPong() bool {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	return c.waitingPong
}

func (c *Connection) waitingPongExpired() bool {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	return c.waitingPong && time.Now().After(c.pongDeadline)
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		c.stateMu.Lock()
		c.state = StateDisconnected
		c.stateMu.Unlock()

		_ = c.transport.Close()
		close(c.closed)
		if err != nil {
			c.logger.Debug("connection closed", zap.Error(err))
		}
	})
}

// peekEvent extracts the event name, or "" when the payload is not a frame.
func peekEvent(payload []byte) string {
	in, err := DecodeInbound(payload)
	if err != nil {
		return ""
	}
	return in.Event
}
