package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gomint/apperr"
)

const directMessageColumns = `id, sender, receiver, ciphertext, salt, iv, tag, encryption_key, is_read, created_at`

// SaveDirectMessage inserts a new direct message row and returns it as stored.
func (s *Store) SaveDirectMessage(message DirectMessage) (*DirectMessage, error) {
	if message.Sender == "" {
		return nil, fmt.Errorf("sender is required: %w", apperr.ErrInvalidArgument)
	}
	if message.Receiver == "" {
		return nil, fmt.Errorf("receiver is required: %w", apperr.ErrInvalidArgument)
	}
	if err := validateEnvelope(message.Envelope); err != nil {
		return nil, err
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt == 0 {
		message.CreatedAt = s.nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO direct_messages (
			id,
			sender,
			receiver,
			ciphertext,
			salt,
			iv,
			tag,
			encryption_key,
			is_read,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.Sender,
		message.Receiver,
		message.Envelope.Ciphertext,
		message.Envelope.Salt,
		message.Envelope.IV,
		message.Envelope.Tag,
		message.Envelope.EncryptionKey,
		boolToInt(message.IsRead),
		message.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("insert direct message %q: unknown identity: %w", message.ID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("insert direct message %q: %w", message.ID, err)
	}

	return &message, nil
}

// GetDirectMessage fetches one direct message by id.
func (s *Store) GetDirectMessage(id string) (*DirectMessage, error) {
	if id == "" {
		return nil, fmt.Errorf("message id is required: %w", apperr.ErrInvalidArgument)
	}

	row := s.db.QueryRow(`SELECT `+directMessageColumns+` FROM direct_messages WHERE id = ?`, id)
	message, err := scanDirectMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get direct message %q: %w", id, err)
	}
	return message, nil
}

// GetConversation returns all messages exchanged between a and b, oldest first.
func (s *Store) GetConversation(a, b string) ([]DirectMessage, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("both identities are required: %w", apperr.ErrInvalidArgument)
	}

	rows, err := s.db.Query(
		`SELECT `+directMessageColumns+`
		FROM direct_messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY created_at ASC, rowid ASC`,
		a, b, b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("get conversation %s <-> %s: %w", a, b, err)
	}
	return collectDirectMessages(rows)
}

// GetUnreadDirectMessages returns unread messages addressed to receiver, newest first.
func (s *Store) GetUnreadDirectMessages(receiver string) ([]DirectMessage, error) {
	if receiver == "" {
		return nil, fmt.Errorf("receiver is required: %w", apperr.ErrInvalidArgument)
	}

	rows, err := s.db.Query(
		`SELECT `+directMessageColumns+`
		FROM direct_messages
		WHERE receiver = ? AND is_read = 0
		ORDER BY created_at DESC, rowid DESC`,
		receiver,
	)
	if err != nil {
		return nil, fmt.Errorf("get unread direct messages for %q: %w", receiver, err)
	}
	return collectDirectMessages(rows)
}

// MarkDirectMessageRead flips is_read for a message addressed to receiver. The
// returned bool is true only when this call performed the transition.
func (s *Store) MarkDirectMessageRead(id, receiver string) (*DirectMessage, bool, error) {
	if id == "" || receiver == "" {
		return nil, false, fmt.Errorf("message id and receiver are required: %w", apperr.ErrInvalidArgument)
	}

	res, err := s.db.Exec(
		`UPDATE direct_messages
		SET is_read = 1
		WHERE id = ? AND receiver = ? AND is_read = 0`,
		id,
		receiver,
	)
	if err != nil {
		return nil, false, fmt.Errorf("mark direct message %q read: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("read rows affected for mark read %q: %w", id, err)
	}

	row := s.db.QueryRow(
		`SELECT `+directMessageColumns+` FROM direct_messages WHERE id = ? AND receiver = ?`,
		id,
		receiver,
	)
	message, err := scanDirectMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("reload direct message %q: %w", id, err)
	}

	return message, rowsAffected > 0, nil
}

func collectDirectMessages(rows *sql.Rows) ([]DirectMessage, error) {
	defer rows.Close()

	messages := make([]DirectMessage, 0)
	for rows.Next() {
		message, err := scanDirectMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan direct message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate direct message rows: %w", err)
	}
	return messages, nil
}

func scanDirectMessage(row scanner) (*DirectMessage, error) {
	var (
		message DirectMessage
		isRead  int
	)
	if err := row.Scan(
		&message.ID,
		&message.Sender,
		&message.Receiver,
		&message.Envelope.Ciphertext,
		&message.Envelope.Salt,
		&message.Envelope.IV,
		&message.Envelope.Tag,
		&message.Envelope.EncryptionKey,
		&isRead,
		&message.CreatedAt,
	); err != nil {
		return nil, err
	}
	message.IsRead = isRead == 1
	return &message, nil
}
