package models

import (
	"encoding/json"

	"gomint/storage"
)

// Notification is the wire form of a persisted notification.
type Notification struct {
	ID        string          `json:"id"`
	Recipient string          `json:"recipient"`
	Sender    *string         `json:"sender,omitempty"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	IsRead    bool            `json:"is_read"`
	CreatedAt int64           `json:"created_at"`
}

// UnreadCount answers getUnreadCount.
type UnreadCount struct {
	Count int `json:"count"`
}

func FromNotification(n storage.Notification) Notification {
	return Notification{
		ID:        n.ID,
		Recipient: n.Recipient,
		Sender:    n.Sender,
		Type:      n.Type,
		Message:   n.Message,
		Metadata:  n.Metadata,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func FromNotifications(in []storage.Notification) []Notification {
	out := make([]Notification, 0, len(in))
	for _, n := range in {
		out = append(out, FromNotification(n))
	}
	return out
}
