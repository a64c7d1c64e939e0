package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"gomint/apperr"
)

// CreateUser inserts a new identity row.
func (s *Store) CreateUser(user User) error {
	user.WalletAddress = strings.TrimSpace(user.WalletAddress)
	if user.WalletAddress == "" {
		return fmt.Errorf("wallet_address is required: %w", apperr.ErrInvalidArgument)
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = s.nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO users (wallet_address, username, created_at) VALUES (?, ?, ?)`,
		user.WalletAddress,
		user.Username,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert user %q: %w", user.WalletAddress, err)
	}

	return nil
}

// EnsureUser inserts the identity if it is unknown and returns the stored row.
func (s *Store) EnsureUser(walletAddress string) (*User, bool, error) {
	walletAddress = strings.TrimSpace(walletAddress)
	if walletAddress == "" {
		return nil, false, fmt.Errorf("wallet_address is required: %w", apperr.ErrInvalidArgument)
	}

	res, err := s.db.Exec(
		`INSERT INTO users (wallet_address, username, created_at) VALUES (?, '', ?)
		ON CONFLICT(wallet_address) DO NOTHING`,
		walletAddress,
		s.nowUnixMilli(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user %q: %w", walletAddress, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("read rows affected for ensure user %q: %w", walletAddress, err)
	}

	user, err := s.GetUser(walletAddress)
	if err != nil {
		return nil, false, err
	}
	return user, rowsAffected > 0, nil
}

// UpdateUsername changes the display name of a known identity.
func (s *Store) UpdateUsername(walletAddress, username string) error {
	res, err := s.db.Exec(
		`UPDATE users SET username = ? WHERE wallet_address = ?`,
		username,
		walletAddress,
	)
	if err != nil {
		return fmt.Errorf("update username for %q: %w", walletAddress, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for update username %q: %w", walletAddress, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser fetches one identity by wallet address.
func (s *Store) GetUser(walletAddress string) (*User, error) {
	if walletAddress == "" {
		return nil, fmt.Errorf("wallet_address is required: %w", apperr.ErrInvalidArgument)
	}

	var user User
	err := s.db.QueryRow(
		`SELECT wallet_address, username, created_at FROM users WHERE wallet_address = ?`,
		walletAddress,
	).Scan(&user.WalletAddress, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", walletAddress, err)
	}

	return &user, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
