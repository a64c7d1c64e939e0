package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gomint/apperr"
)

const notificationColumns = `id, recipient, sender, type, message, metadata, is_read, created_at`

// CreateNotification inserts a notification row and returns it as stored.
func (s *Store) CreateNotification(notification Notification) (*Notification, error) {
	if notification.Recipient == "" {
		return nil, fmt.Errorf("recipient is required: %w", apperr.ErrInvalidArgument)
	}
	if !ValidNotificationType(notification.Type) {
		return nil, fmt.Errorf("invalid notification type %q: %w", notification.Type, apperr.ErrInvalidArgument)
	}
	if len(notification.Metadata) > 0 && !json.Valid(notification.Metadata) {
		return nil, fmt.Errorf("metadata must be valid JSON: %w", apperr.ErrInvalidArgument)
	}
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt == 0 {
		notification.CreatedAt = s.nowUnixMilli()
	}

	var metadata sql.NullString
	if len(notification.Metadata) > 0 {
		metadata = sql.NullString{String: string(notification.Metadata), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO notifications (
			id,
			recipient,
			sender,
			type,
			message,
			metadata,
			is_read,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		notification.ID,
		notification.Recipient,
		nullString(notification.Sender),
		notification.Type,
		notification.Message,
		metadata,
		boolToInt(notification.IsRead),
		notification.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification %q: %w", notification.ID, err)
	}

	return &notification, nil
}

// GetNotification fetches a notification owned by recipient.
func (s *Store) GetNotification(id, recipient string) (*Notification, error) {
	row := s.db.QueryRow(
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ? AND recipient = ?`,
		id,
		recipient,
	)
	notification, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get notification %q: %w", id, err)
	}
	return notification, nil
}

// ListNotifications returns notifications for recipient, newest first.
func (s *Store) ListNotifications(recipient string, unreadOnly bool) ([]Notification, error) {
	if recipient == "" {
		return nil, fmt.Errorf("recipient is required: %w", apperr.ErrInvalidArgument)
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.Query(query, recipient)
	if err != nil {
		return nil, fmt.Errorf("list notifications for %q: %w", recipient, err)
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		notifications = append(notifications, *notification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}

	return notifications, nil
}

// CountUnreadNotifications returns the number of unread notifications for recipient.
func (s *Store) CountUnreadNotifications(recipient string) (int, error) {
	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(1) FROM notifications WHERE recipient = ? AND is_read = 0`,
		recipient,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread notifications for %q: %w", recipient, err)
	}
	return count, nil
}

// MarkNotificationRead flips is_read for a notification owned by recipient.
func (s *Store) MarkNotificationRead(id, recipient string) (*Notification, error) {
	res, err := s.db.Exec(
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND recipient = ?`,
		id,
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("mark notification %q read: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("read rows affected for mark notification %q: %w", id, err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return s.GetNotification(id, recipient)
}

// MarkAllNotificationsRead flips every unread notification of recipient.
func (s *Store) MarkAllNotificationsRead(recipient string) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE notifications SET is_read = 1 WHERE recipient = ? AND is_read = 0`,
		recipient,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read for %q: %w", recipient, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for mark all notifications: %w", err)
	}
	return rowsAffected, nil
}

// DeleteNotification removes a notification owned by recipient and returns the
// row as it was before deletion.
func (s *Store) DeleteNotification(id, recipient string) (*Notification, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin delete notification transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRow(
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ? AND recipient = ?`,
		id,
		recipient,
	)
	snapshot, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load notification %q: %w", id, err)
	}

	if _, err := tx.Exec(`DELETE FROM notifications WHERE id = ? AND recipient = ?`, id, recipient); err != nil {
		return nil, fmt.Errorf("delete notification %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete notification %q: %w", id, err)
	}

	return snapshot, nil
}

func scanNotification(row scanner) (*Notification, error) {
	var (
		notification Notification
		sender       sql.NullString
		metadata     sql.NullString
		isRead       int
	)
	if err := row.Scan(
		&notification.ID,
		&notification.Recipient,
		&sender,
		&notification.Type,
		&notification.Message,
		&metadata,
		&isRead,
		&notification.CreatedAt,
	); err != nil {
		return nil, err
	}

	notification.Sender = stringPtr(sender)
	if metadata.Valid && metadata.String != "" {
		notification.Metadata = json.RawMessage(metadata.String)
	}
	notification.IsRead = isRead == 1
	return &notification, nil
}
