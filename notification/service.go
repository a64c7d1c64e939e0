// Package notification persists notifications and pushes them to the
// recipient's personal room.
package notification

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gomint/apperr"
	"gomint/metrics"
	"gomint/models"
	"gomint/rooms"
	"gomint/storage"
)

// Outbound event names.
const (
	EventNew     = "newNotification"
	EventUpdated = "notificationUpdated"
	EventDeleted = "deleteNotification"
)

// Store is the notification table.
type Store interface {
	CreateNotification(n storage.Notification) (*storage.Notification, error)
	ListNotifications(recipient string, unreadOnly bool) ([]storage.Notification, error)
	CountUnreadNotifications(recipient string) (int, error)
	MarkNotificationRead(id, recipient string) (*storage.Notification, error)
	MarkAllNotificationsRead(recipient string) (int64, error)
	DeleteNotification(id, recipient string) (*storage.Notification, error)
}

// Broadcaster delivers an event to a room.
type Broadcaster interface {
	BroadcastToRoom(room, event string, data any) (int, error)
}

type Service struct {
	store   Store
	rooms   Broadcaster
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewService(store Store, broadcaster Broadcaster, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		rooms:   broadcaster,
		metrics: m,
		logger:  logger.Named("notification"),
	}
}

// Create persists a notification. metadata may be nil or any JSON-encodable value.
func (s *Service) Create(recipient, notificationType, message string, sender *string, metadata any) (*storage.Notification, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("notification recipient is required: %w", apperr.ErrPreconditionFailed)
	}

	var raw json.RawMessage
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("encode notification metadata: %v: %w", err, apperr.ErrInvalidArgument)
		}
		raw = encoded
	}

	created, err := s.store.CreateNotification(storage.Notification{
		Recipient: recipient,
		Sender:    sender,
		Type:      notificationType,
		Message:   message,
		Metadata:  raw,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPersisted("notification")
	return created, nil
}

// EmitNew pushes newNotification to the recipient's personal room.
func (s *Service) EmitNew(n storage.Notification) {
	s.emit(EventNew, n)
}

// EmitUpdate pushes notificationUpdated to the recipient's personal room.
func (s *Service) EmitUpdate(n storage.Notification) {
	s.emit(EventUpdated, n)
}

// EmitDelete pushes deleteNotification to the recipient's personal room.
func (s *Service) EmitDelete(n storage.Notification) {
	s.emit(EventDeleted, n)
}

func (s *Service) emit(event string, n storage.Notification) {
	if _, err := s.rooms.BroadcastToRoom(rooms.PersonalRoom(n.Recipient), event, models.FromNotification(n)); err != nil {
		s.logger.Warn("notification broadcast failed",
			zap.String("event", event),
			zap.String("recipient", n.Recipient),
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
	}
}

// CreateAndEmit persists a notification and pushes it as newNotification.
func (s *Service) CreateAndEmit(recipient, notificationType, message string, sender *string, metadata any) (*storage.Notification, error) {
	n, err := s.Create(recipient, notificationType, message, sender, metadata)
	if err != nil {
		return nil, err
	}
	s.EmitNew(*n)
	return n, nil
}

// FindAll returns every notification of recipient, newest first.
func (s *Service) FindAll(recipient string) ([]storage.Notification, error) {
	return s.store.ListNotifications(recipient, false)
}

// FindUnread returns the unread notifications of recipient, newest first.
func (s *Service) FindUnread(recipient string) ([]storage.Notification, error) {
	return s.store.ListNotifications(recipient, true)
}

func (s *Service) UnreadCount(recipient string) (int, error) {
	return s.store.CountUnreadNotifications(recipient)
}

// MarkRead flips one notification owned by recipient and emits the update.
func (s *Service) MarkRead(id, recipient string) (*storage.Notification, error) {
	n, err := s.store.MarkNotificationRead(id, recipient)
	if err != nil {
		return nil, err
	}
	s.EmitUpdate(*n)
	return n, nil
}

// MarkAllRead flips every unread notification of recipient and returns what
// is still unread afterwards, which is empty unless a notification arrived
// in between. Callers wanting the transitioned set must read it first.
func (s *Service) MarkAllRead(recipient string) ([]storage.Notification, error) {
	if _, err := s.store.MarkAllNotificationsRead(recipient); err != nil {
		return nil, err
	}
	return s.FindUnread(recipient)
}

// Remove deletes one notification owned by recipient and returns it as it
// was before deletion.
func (s *Service) Remove(id, recipient string) (*storage.Notification, error) {
	return s.store.DeleteNotification(id, recipient)
}
