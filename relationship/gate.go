// Package relationship answers delivery and relationship questions over the
// friend records owned by the relationship collaborator.
package relationship

import (
	"errors"
	"fmt"

	"gomint/apperr"
	"gomint/storage"
)

// Relationship types as seen from the asking identity.
const (
	TypeFriends         = "FRIENDS"
	TypePendingIncoming = "PENDING_INCOMING"
	TypePendingOutgoing = "PENDING_OUTGOING"
	TypeBlocked         = "BLOCKED"
	TypeNone            = "NONE"
)

// Store is the read-only view of relationship records.
type Store interface {
	HasBlock(a, b string) (bool, error)
	FindRelationship(a, b string) (*storage.Friend, error)
}

// Users checks identity existence.
type Users interface {
	Lookup(walletAddress string) (storage.User, error)
}

// Status describes the relationship between two identities.
type Status struct {
	RelationshipType string `json:"relationshipType"`
	Status           string `json:"status,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Gate never mutates relationship state.
type Gate struct {
	store Store
	users Users
}

func NewGate(store Store, users Users) *Gate {
	return &Gate{store: store, users: users}
}

// CanDeliver is false when either identity has blocked the other.
func (g *Gate) CanDeliver(sender, receiver string) (bool, error) {
	blocked, err := g.store.HasBlock(sender, receiver)
	if err != nil {
		return false, fmt.Errorf("check delivery %s -> %s: %w", sender, receiver, err)
	}
	return !blocked, nil
}

// Status reports how target relates to user. Both identities must exist.
func (g *Gate) Status(user, target string) (Status, error) {
	if _, err := g.users.Lookup(user); err != nil {
		return Status{}, err
	}
	if _, err := g.users.Lookup(target); err != nil {
		return Status{}, err
	}

	// A block in either direction wins over any other record for the pair.
	blocked, err := g.store.HasBlock(user, target)
	if err != nil {
		return Status{}, fmt.Errorf("relationship status %s -> %s: %w", user, target, err)
	}
	if blocked {
		return Status{RelationshipType: TypeBlocked, Status: storage.FriendStatusBlocked}, nil
	}

	friend, err := g.store.FindRelationship(user, target)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Status{RelationshipType: TypeNone}, nil
		}
		return Status{}, fmt.Errorf("relationship status %s -> %s: %w", user, target, err)
	}

	switch friend.Status {
	case storage.FriendStatusAccepted:
		return Status{RelationshipType: TypeFriends, Status: friend.Status}, nil
	case storage.FriendStatusBlocked:
		return Status{RelationshipType: TypeBlocked, Status: friend.Status}, nil
	case storage.FriendStatusPending:
		if friend.Sender == user {
			return Status{RelationshipType: TypePendingOutgoing, Status: friend.Status, Message: friend.Message}, nil
		}
		return Status{RelationshipType: TypePendingIncoming, Status: friend.Status, Message: friend.Message}, nil
	default:
		return Status{RelationshipType: TypeNone}, nil
	}
}
