package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gomint/apperr"
)

const communityColumns = `id, name, token_id, creator, is_active, created_at`

// UpsertCommunity inserts a community or updates name and active flag of an existing one.
func (s *Store) UpsertCommunity(community Community) (*Community, error) {
	community.Name = strings.TrimSpace(community.Name)
	if community.Name == "" {
		return nil, fmt.Errorf("community name is required: %w", apperr.ErrInvalidArgument)
	}
	if community.TokenID == "" {
		return nil, fmt.Errorf("token_id is required: %w", apperr.ErrInvalidArgument)
	}
	if community.Creator == "" {
		return nil, fmt.Errorf("creator is required: %w", apperr.ErrInvalidArgument)
	}
	if community.ID == "" {
		community.ID = uuid.NewString()
	}
	if community.CreatedAt == 0 {
		community.CreatedAt = s.nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO communities (id, name, token_id, creator, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active`,
		community.ID,
		community.Name,
		community.TokenID,
		community.Creator,
		boolToInt(community.IsActive),
		community.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("upsert community %q: unknown creator: %w", community.ID, apperr.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("upsert community %q: %w", community.ID, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("upsert community %q: %w", community.ID, err)
	}

	return s.GetCommunity(community.ID)
}

// GetCommunity fetches one community by id, active or not.
func (s *Store) GetCommunity(id string) (*Community, error) {
	return s.getCommunityWhere("id = ?", id)
}

// GetCommunityByTokenID fetches the community bound to a token.
func (s *Store) GetCommunityByTokenID(tokenID string) (*Community, error) {
	return s.getCommunityWhere("token_id = ?", tokenID)
}

// ListActiveCommunities returns active communities, newest first.
func (s *Store) ListActiveCommunities() ([]Community, error) {
	rows, err := s.db.Query(
		`SELECT ` + communityColumns + `
		FROM communities
		WHERE is_active = 1
		ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active communities: %w", err)
	}
	defer rows.Close()

	communities := make([]Community, 0)
	for rows.Next() {
		community, err := scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan community row: %w", err)
		}
		communities = append(communities, *community)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate community rows: %w", err)
	}

	return communities, nil
}

func (s *Store) getCommunityWhere(where string, arg string) (*Community, error) {
	if arg == "" {
		return nil, fmt.Errorf("community lookup key is required: %w", apperr.ErrInvalidArgument)
	}

	row := s.db.QueryRow(`SELECT `+communityColumns+` FROM communities WHERE `+where, arg)
	community, err := scanCommunity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get community %q: %w", arg, err)
	}
	return community, nil
}

func scanCommunity(row scanner) (*Community, error) {
	var (
		community Community
		isActive  int
	)
	if err := row.Scan(
		&community.ID,
		&community.Name,
		&community.TokenID,
		&community.Creator,
		&isActive,
		&community.CreatedAt,
	); err != nil {
		return nil, err
	}
	community.IsActive = isActive == 1
	return &community, nil
}
