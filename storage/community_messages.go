package storage

import (
	"fmt"

	"github.com/google/uuid"

	"gomint/apperr"
)

// SaveCommunityMessage inserts a new community message row and returns it as stored.
func (s *Store) SaveCommunityMessage(message CommunityMessage) (*CommunityMessage, error) {
	if message.CommunityID == "" {
		return nil, fmt.Errorf("community_id is required: %w", apperr.ErrInvalidArgument)
	}
	if message.Sender == "" {
		return nil, fmt.Errorf("sender is required: %w", apperr.ErrInvalidArgument)
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
		`INSERT INTO community_messages (
			id,
			community_id,
			sender,
			ciphertext,
			salt,
			iv,
			tag,
			encryption_key,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.CommunityID,
		message.Sender,
		message.Envelope.Ciphertext,
		message.Envelope.Salt,
		message.Envelope.IV,
		message.Envelope.Tag,
		message.Envelope.EncryptionKey,
		message.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("insert community message %q: unknown community or sender: %w", message.ID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("insert community message %q: %w", message.ID, err)
	}

	return &message, nil
}

// GetCommunityMessages returns the full history of a community, oldest first.
func (s *Store) GetCommunityMessages(communityID string) ([]CommunityMessage, error) {
	if communityID == "" {
		return nil, fmt.Errorf("community_id is required: %w", apperr.ErrInvalidArgument)
	}

	rows, err := s.db.Query(
		`SELECT id, community_id, sender, ciphertext, salt, iv, tag, encryption_key, created_at
		FROM community_messages
		WHERE community_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("get community messages for %q: %w", communityID, err)
	}
	defer rows.Close()

	messages := make([]CommunityMessage, 0)
	for rows.Next() {
		message, err := scanCommunityMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan community message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate community message rows: %w", err)
	}

	return messages, nil
}

func scanCommunityMessage(row scanner) (*CommunityMessage, error) {
	var message CommunityMessage
	if err := row.Scan(
		&message.ID,
		&message.CommunityID,
		&message.Sender,
		&message.Envelope.Ciphertext,
		&message.Envelope.Salt,
		&message.Envelope.IV,
		&message.Envelope.Tag,
		&message.Envelope.EncryptionKey,
		&message.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &message, nil
}
