package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gomint/apperr"
)

// UpsertFriend records the relationship between sender and receiver. A pair
// holds at most one record: when one already exists in either direction its
// status and message are replaced and its direction is kept.
func (s *Store) UpsertFriend(friend Friend) (*Friend, error) {
	if friend.Sender == "" || friend.Receiver == "" {
		return nil, fmt.Errorf("sender and receiver are required: %w", apperr.ErrInvalidArgument)
	}
	if friend.Sender == friend.Receiver {
		return nil, fmt.Errorf("relationship with self: %w", apperr.ErrInvalidArgument)
	}
	if friend.Status == "" {
		friend.Status = FriendStatusPending
	}
	if err := validateFriendStatus(friend.Status); err != nil {
		return nil, err
	}
	now := s.nowUnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin upsert friend transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existingID string
	err = tx.QueryRow(
		`SELECT id FROM friends
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY updated_at DESC, rowid DESC
		LIMIT 1`,
		friend.Sender, friend.Receiver, friend.Receiver, friend.Sender,
	).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if friend.ID == "" {
			friend.ID = uuid.NewString()
		}
		existingID = friend.ID
		_, err = tx.Exec(
			`INSERT INTO friends (id, sender, receiver, status, message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			friend.ID,
			friend.Sender,
			friend.Receiver,
			friend.Status,
			friend.Message,
			now,
			now,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("upsert friend %s -> %s: unknown identity: %w", friend.Sender, friend.Receiver, apperr.ErrNotFound)
			}
			return nil, fmt.Errorf("insert friend %s -> %s: %w", friend.Sender, friend.Receiver, err)
		}
	case err != nil:
		return nil, fmt.Errorf("find friend %s <-> %s: %w", friend.Sender, friend.Receiver, err)
	default:
		if _, err := tx.Exec(
			`UPDATE friends SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
			friend.Status,
			friend.Message,
			now,
			existingID,
		); err != nil {
			return nil, fmt.Errorf("update friend %s <-> %s: %w", friend.Sender, friend.Receiver, err)
		}
	}

	row := tx.QueryRow(
		`SELECT id, sender, receiver, status, message, created_at, updated_at
		FROM friends
		WHERE id = ?`,
		existingID,
	)
	stored, err := scanFriend(row)
	if err != nil {
		return nil, fmt.Errorf("reload friend %s <-> %s: %w", friend.Sender, friend.Receiver, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert friend %s <-> %s: %w", friend.Sender, friend.Receiver, err)
	}
	return stored, nil
}

// DeleteFriend removes any relationship record between the pair, in either direction.
func (s *Store) DeleteFriend(a, b string) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM friends
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)`,
		a, b, b, a,
	)
	if err != nil {
		return 0, fmt.Errorf("delete friend %s <-> %s: %w", a, b, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for delete friend: %w", err)
	}
	return rowsAffected, nil
}

// FindRelationship returns the most recently updated record between the pair
// in either direction.
func (s *Store) FindRelationship(a, b string) (*Friend, error) {
	row := s.db.QueryRow(
		`SELECT id, sender, receiver, status, message, created_at, updated_at
		FROM friends
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY updated_at DESC, rowid DESC
		LIMIT 1`,
		a, b, b, a,
	)
	friend, err := scanFriend(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find relationship %s <-> %s: %w", a, b, err)
	}
	return friend, nil
}

// HasBlock reports whether a BLOCKED record exists between the pair in either direction.
func (s *Store) HasBlock(a, b string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(
		`SELECT EXISTS(
			SELECT 1 FROM friends
			WHERE status = ?
			AND ((sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?))
		)`,
		FriendStatusBlocked,
		a, b, b, a,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check block %s <-> %s: %w", a, b, err)
	}
	return exists == 1, nil
}

func scanFriend(row scanner) (*Friend, error) {
	var friend Friend
	if err := row.Scan(
		&friend.ID,
		&friend.Sender,
		&friend.Receiver,
		&friend.Status,
		&friend.Message,
		&friend.CreatedAt,
		&friend.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &friend, nil
}
