// Package gateway is the event surface of an authenticated connection: it
// decodes inbound events, dispatches them and replies to the caller.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gomint/apperr"
	"gomint/metrics"
	"gomint/network"
	"gomint/relationship"
	"gomint/rooms"
	"gomint/storage"
)

// Conn is an authenticated connection. *network.Connection satisfies it.
type Conn interface {
	ID() string
	Identity() string
	RemoteAddr() string
	Send(payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	LastError() error
	Close() error
}

type Chat interface {
	SendMessage(originConnID, sender, receiver, content string) (*storage.DirectMessage, error)
	MarkAsRead(reader, messageID string) (*storage.DirectMessage, error)
	Typing(sender, receiver string, isTyping bool) error
	JoinChat(connID, identity, other string) ([]storage.DirectMessage, error)
	UnreadMessages(identity string) ([]storage.DirectMessage, error)
}

type Communities interface {
	SendMessage(sender, communityID, content string) (*storage.CommunityMessage, error)
	Join(connID, ref string) (*storage.Community, []storage.CommunityMessage, error)
	Typing(sender, communityID string, isTyping bool) error
	FindAll() ([]storage.Community, error)
	FindByToken(tokenID string) (*storage.Community, error)
}

type Notifications interface {
	FindAll(recipient string) ([]storage.Notification, error)
	FindUnread(recipient string) ([]storage.Notification, error)
	UnreadCount(recipient string) (int, error)
	MarkRead(id, recipient string) (*storage.Notification, error)
	MarkAllRead(recipient string) ([]storage.Notification, error)
	Remove(id, recipient string) (*storage.Notification, error)
	EmitDelete(n storage.Notification)
}

type Relationships interface {
	Status(user, target string) (relationship.Status, error)
}

// Limits bounds how fast one connection may send events.
type Limits struct {
	EventsPerSecond float64
	Burst           int
}

// Deps are the collaborators of Gateway.
type Deps struct {
	Chat          Chat
	Communities   Communities
	Notifications Notifications
	Relationships Relationships
	Rooms         *rooms.Registry
	Security      *SecurityRecorder
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	Limits        Limits
}

type handlerFunc func(conn Conn, data json.RawMessage) (any, error)

type Gateway struct {
	deps     Deps
	handlers map[string]handlerFunc
	logger   *zap.Logger
}

func New(deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{deps: deps, logger: logger.Named("gateway")}
	g.handlers = g.routes()
	return g
}

// Serve runs the event loop of conn until it closes or ctx ends. Events of
// one connection are handled in arrival order.
func (g *Gateway) Serve(ctx context.Context, conn Conn) {
	logger := g.logger.With(zap.String("connection_id", conn.ID()), zap.String("identity", conn.Identity()))

	g.deps.Rooms.Register(conn)
	if err := g.deps.Rooms.Join(conn.ID(), rooms.PersonalRoom(conn.Identity())); err != nil {
		logger.Warn("join personal room failed", zap.Error(err))
	}
	g.deps.Metrics.ConnectionOpened()
	logger.Info("connection ready", zap.String("remote", conn.RemoteAddr()))

	defer func() {
		left := g.deps.Rooms.Disconnect(conn.ID())
		g.deps.Metrics.ConnectionClosed()

		cause := conn.LastError()
		if errors.Is(cause, network.ErrSlowConsumer) {
			g.deps.Security.Record(SecuritySlowConsumer, storage.SecuritySeverityInfo, conn.Identity(), conn.RemoteAddr(), nil)
		}
		logger.Info("connection closed", zap.Strings("rooms", left), zap.NamedError("cause", cause))
	}()

	var limiter *rate.Limiter
	if g.deps.Limits.EventsPerSecond > 0 {
		burst := g.deps.Limits.Burst
		if burst <= 0 {
			burst = int(g.deps.Limits.EventsPerSecond) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(g.deps.Limits.EventsPerSecond), burst)
	}

	for {
		payload, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = conn.Close()
			} else if !errors.Is(err, io.EOF) {
				logger.Debug("receive failed", zap.Error(err))
			}
			return
		}
		g.handle(conn, limiter, payload)
	}
}

func (g *Gateway) handle(conn Conn, limiter *rate.Limiter, payload []byte) {
	in, err := network.DecodeInbound(payload)
	if err != nil {
		g.deps.Metrics.EventHandled("invalid", apperr.CodeInvalidArgument)
		g.reply(conn, "", "invalid", nil, fmt.Errorf("malformed frame: %w", apperr.ErrInvalidArgument))
		return
	}

	if limiter != nil && !limiter.Allow() {
		g.deps.Metrics.EventHandled(in.Event, apperr.CodeRateLimited)
		g.deps.Security.Record(SecurityEventRateLimit, storage.SecuritySeverityWarning, conn.Identity(), conn.RemoteAddr(), map[string]string{"event": in.Event})
		g.reply(conn, in.ID, in.Event, nil, fmt.Errorf("too many events: %w", apperr.ErrRateLimited))
		return
	}

	h, ok := g.handlers[in.Event]
	if !ok {
		g.deps.Metrics.EventHandled("unknown", apperr.CodeInvalidArgument)
		g.reply(conn, in.ID, in.Event, nil, fmt.Errorf("unknown event %q: %w", in.Event, apperr.ErrInvalidArgument))
		return
	}

	result, err := h(conn, in.Data)
	g.deps.Metrics.EventHandled(in.Event, apperr.Code(err))
	g.reply(conn, in.ID, in.Event, result, err)
}

// reply answers the originating connection only. Successful events without an
// id get no reply.
func (g *Gateway) reply(conn Conn, id, event string, result any, err error) {
	var (
		payload []byte
		encErr  error
	)
	switch {
	case err != nil:
		code := apperr.Code(err)
		if code == apperr.CodeInternal {
			g.logger.Error("event failed",
				zap.String("event", event),
				zap.String("identity", conn.Identity()),
				zap.Error(err),
			)
		} else {
			g.logger.Debug("event rejected",
				zap.String("event", event),
				zap.String("identity", conn.Identity()),
				zap.String("code", code),
				zap.Error(err),
			)
		}
		payload, encErr = network.EncodeError(id, code, apperr.PublicMessage(err))
	case id != "":
		payload, encErr = network.EncodeAck(id, result)
	default:
		return
	}
	if encErr != nil {
		g.logger.Error("encode reply failed", zap.String("event", event), zap.Error(encErr))
		return
	}
	if sendErr := conn.Send(payload); sendErr != nil {
		g.logger.Debug("reply not delivered", zap.String("event", event), zap.Error(sendErr))
	}
}

// decode unmarshals an event payload. A missing payload yields the zero value.
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode payload: %v: %w", err, apperr.ErrInvalidArgument)
	}
	return v, nil
}
