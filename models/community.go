package models

import "gomint/storage"

// Community is the wire form of community metadata.
type Community struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TokenID   string `json:"token_id"`
	Creator   string `json:"creator"`
	IsActive  bool   `json:"is_active"`
	CreatedAt int64  `json:"created_at"`
}

// CommunityHistory is returned when a connection joins a community room.
type CommunityHistory struct {
	Community Community          `json:"community"`
	Messages  []CommunityMessage `json:"messages"`
}

func FromCommunity(c storage.Community) Community {
	return Community{
		ID:        c.ID,
		Name:      c.Name,
		TokenID:   c.TokenID,
		Creator:   c.Creator,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt,
	}
}

func FromCommunities(in []storage.Community) []Community {
	out := make([]Community, 0, len(in))
	for _, c := range in {
		out = append(out, FromCommunity(c))
	}
	return out
}
