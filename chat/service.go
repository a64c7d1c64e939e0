// Package chat runs the direct-message pipeline: gate, encrypt, persist, fan out.
package chat

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gomint/apperr"
	"gomint/crypto"
	"gomint/metrics"
	"gomint/models"
	"gomint/rooms"
	"gomint/storage"
)

// Outbound event names.
const (
	EventMessageSent = "messageSent"
	EventNewMessage  = "newMessage"
	EventMessageRead = "messageRead"
	EventTyping      = "typing"
)

type Store interface {
	SaveDirectMessage(message storage.DirectMessage) (*storage.DirectMessage, error)
	GetConversation(a, b string) ([]storage.DirectMessage, error)
	GetUnreadDirectMessages(receiver string) ([]storage.DirectMessage, error)
	MarkDirectMessageRead(id, receiver string) (*storage.DirectMessage, bool, error)
}

type Users interface {
	Lookup(walletAddress string) (storage.User, error)
}

type Gate interface {
	CanDeliver(sender, receiver string) (bool, error)
}

type Cipher interface {
	GenerateKey() (string, error)
	Encrypt(plaintext, key string) (crypto.Envelope, error)
}

type Rooms interface {
	Join(connID, room string) error
	BroadcastToRoom(room, event string, data any) (int, error)
	BroadcastToConnection(connID, event string, data any) error
}

type Presence interface {
	SetTyping(room, identity string, isTyping bool) bool
}

// Notifier creates the NEW_CHAT_MESSAGE notification for a delivered message.
type Notifier interface {
	NotifyNewChatMessage(sender, receiver, messageID string) (*storage.Notification, error)
}

// Deps are the collaborators of Service.
type Deps struct {
	Store    Store
	Users    Users
	Gate     Gate
	Cipher   Cipher
	Rooms    Rooms
	Presence Presence
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Service struct {
	Deps
	logger *zap.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Deps: deps, logger: logger.Named("chat")}
}

// SendMessage delivers content from sender to receiver. The persisted record
// goes to the originating connection as messageSent and to the receiver's
// personal room as newMessage. Nothing is persisted when a check fails.
func (s *Service) SendMessage(originConnID, sender, receiver, content string) (*storage.DirectMessage, error) {
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return nil, fmt.Errorf("receiver is required: %w", apperr.ErrInvalidArgument)
	}
	if content == "" {
		return nil, fmt.Errorf("content is required: %w", apperr.ErrInvalidArgument)
	}

	if _, err := s.Users.Lookup(sender); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("sender %s is not registered: %w", sender, apperr.ErrPreconditionFailed)
		}
		return nil, err
	}
	if _, err := s.Users.Lookup(receiver); err != nil {
		return nil, err
	}

	ok, err := s.Gate.CanDeliver(sender, receiver)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cannot send message to %s: %w", receiver, apperr.ErrForbidden)
	}

	key, err := s.Cipher.GenerateKey()
	if err != nil {
		return nil, err
	}
	envelope, err := s.Cipher.Encrypt(content, key)
	if err != nil {
		return nil, err
	}

	saved, err := s.Store.SaveDirectMessage(storage.DirectMessage{
		Sender:   sender,
		Receiver: receiver,
		Envelope: storage.Envelope{
			Ciphertext:    envelope.Ciphertext,
			Salt:          envelope.Salt,
			IV:            envelope.IV,
			Tag:           envelope.Tag,
			EncryptionKey: key,
		},
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.RecordPersisted("direct_message")

	wire := models.FromDirectMessage(*saved)
	if originConnID != "" {
		if err := s.Rooms.BroadcastToConnection(originConnID, EventMessageSent, wire); err != nil {
			s.logger.Debug("sender connection gone before messageSent", zap.String("connection_id", originConnID), zap.Error(err))
		}
	}
	if _, err := s.Rooms.BroadcastToRoom(rooms.PersonalRoom(receiver), EventNewMessage, wire); err != nil {
		s.logger.Warn("newMessage broadcast failed", zap.String("message_id", saved.ID), zap.Error(err))
	}

	if s.Notifier != nil {
		if _, err := s.Notifier.NotifyNewChatMessage(sender, receiver, saved.ID); err != nil {
			s.logger.Warn("chat notification failed",
				zap.String("message_id", saved.ID),
				zap.String("receiver", receiver),
				zap.Error(err),
			)
		}
	}

	return saved, nil
}

// MarkAsRead flips a message the reader received. messageRead goes to the
// sender's personal room only on the first transition.
func (s *Service) MarkAsRead(reader, messageID string) (*storage.DirectMessage, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("messageId is required: %w", apperr.ErrInvalidArgument)
	}

	message, changed, err := s.Store.MarkDirectMessageRead(messageID, reader)
	if err != nil {
		return nil, err
	}
	if changed {
		if _, err := s.Rooms.BroadcastToRoom(rooms.PersonalRoom(message.Sender), EventMessageRead, models.MessageRead{
			MessageID: message.ID,
			ReadBy:    reader,
		}); err != nil {
			s.logger.Warn("messageRead broadcast failed", zap.String("message_id", message.ID), zap.Error(err))
		}
	}
	return message, nil
}

// Typing records the typing state of sender towards receiver and relays it to
// the receiver's personal room.
func (s *Service) Typing(sender, receiver string, isTyping bool) error {
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return fmt.Errorf("receiver is required: %w", apperr.ErrInvalidArgument)
	}

	room := rooms.PersonalRoom(receiver)
	s.Presence.SetTyping(room, sender, isTyping)
	_, err := s.Rooms.BroadcastToRoom(room, EventTyping, models.Typing{User: sender, IsTyping: isTyping})
	return err
}

// JoinChat joins the caller's connection to its personal room and returns the
// conversation with other, oldest first.
func (s *Service) JoinChat(connID, identity, other string) ([]storage.DirectMessage, error) {
	other = strings.TrimSpace(other)
	if other == "" {
		return nil, fmt.Errorf("otherIdentity is required: %w", apperr.ErrInvalidArgument)
	}

	conversation, err := s.Store.GetConversation(identity, other)
	if err != nil {
		return nil, err
	}
	if err := s.Rooms.Join(connID, rooms.PersonalRoom(identity)); err != nil {
		return nil, err
	}
	return conversation, nil
}

// UnreadMessages returns the unread messages addressed to identity, newest first.
func (s *Service) UnreadMessages(identity string) ([]storage.DirectMessage, error) {
	return s.Store.GetUnreadDirectMessages(identity)
}
