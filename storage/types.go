package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"gomint/apperr"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = fmt.Errorf("storage: record not found: %w", apperr.ErrNotFound)
	// ErrAlreadyExists indicates an insert collided with an existing key.
	ErrAlreadyExists = fmt.Errorf("storage: record already exists: %w", apperr.ErrInvalidArgument)
)

// Friend statuses as recorded by the relationship collaborator.
const (
	FriendStatusPending  = "PENDING"
	FriendStatusAccepted = "ACCEPTED"
	FriendStatusRejected = "REJECTED"
	FriendStatusBlocked  = "BLOCKED"
)

// Notification types. The set is closed; Create rejects anything else.
const (
	NotificationFriendRequestReceived = "FRIEND_REQUEST_RECEIVED"
	NotificationFriendRequestAccepted = "FRIEND_REQUEST_ACCEPTED"
	NotificationFriendRequestRejected = "FRIEND_REQUEST_REJECTED"
	NotificationFriendBlocked         = "FRIEND_BLOCKED"
	NotificationFriendRemoved         = "FRIEND_REMOVED"
	NotificationFriendUnblocked       = "FRIEND_UNBLOCKED"
	NotificationNewChatMessage        = "NEW_CHAT_MESSAGE"
	NotificationNewCommunityMessage   = "NEW_COMMUNITY_MESSAGE"
	NotificationTokenCreated          = "TOKEN_CREATED"
	NotificationTokenUpdated          = "TOKEN_UPDATED"
	NotificationTokenDeleted          = "TOKEN_DELETED"
	NotificationCommunityChatCreated  = "COMMUNITY_CHAT_CREATED"
)

const (
	// SecuritySeverityInfo indicates informational security event context.
	SecuritySeverityInfo = "info"
	// SecuritySeverityWarning indicates potentially suspicious behavior.
	SecuritySeverityWarning = "warning"
	// SecuritySeverityCritical indicates serious security failures.
	SecuritySeverityCritical = "critical"
)

// User is a known wallet identity.
type User struct {
	WalletAddress string
	Username      string
	CreatedAt     int64
}

// Friend is one relationship record between two identities. Direction matters
// for PENDING (sender asked receiver) and BLOCKED (sender blocked receiver).
type Friend struct {
	ID        string
	Sender    string
	Receiver  string
	Status    string
	Message   string
	CreatedAt int64
	UpdatedAt int64
}

// Community is a token-bound group conversation.
type Community struct {
	ID        string
	Name      string
	TokenID   string
	Creator   string
	IsActive  bool
	CreatedAt int64
}

// Envelope holds the encrypted body of a message together with its key material.
type Envelope struct {
	Ciphertext    string
	Salt          string
	IV            string
	Tag           string
	EncryptionKey string
}

// DirectMessage is the SQLite representation of a one-to-one chat message.
type DirectMessage struct {
	ID        string
	Sender    string
	Receiver  string
	Envelope  Envelope
	IsRead    bool
	CreatedAt int64
}

// CommunityMessage is the SQLite representation of a community chat message.
type CommunityMessage struct {
	ID          string
	CommunityID string
	Sender      string
	Envelope    Envelope
	CreatedAt   int64
}

// Notification is one persisted notification for a recipient.
type Notification struct {
	ID        string
	Recipient string
	Sender    *string
	Type      string
	Message   string
	Metadata  json.RawMessage
	IsRead    bool
	CreatedAt int64
}

// SecurityEvent stores structured security-relevant runtime events.
type SecurityEvent struct {
	ID        int64
	EventType string
	Identity  *string
	Remote    *string
	Details   string
	Severity  string
	Timestamp int64
}

// SecurityEventFilter narrows GetSecurityEvents query results.
type SecurityEventFilter struct {
	EventType     string
	Identity      string
	Severity      string
	FromTimestamp *int64
	ToTimestamp   *int64
	Limit         int
	Offset        int
}

type scanner interface {
	Scan(dest ...any) error
}

func validateFriendStatus(status string) error {
	switch status {
	case FriendStatusPending, FriendStatusAccepted, FriendStatusRejected, FriendStatusBlocked:
		return nil
	default:
		return fmt.Errorf("invalid friend status %q: %w", status, apperr.ErrInvalidArgument)
	}
}

// ValidNotificationType reports whether t belongs to the closed notification enum.
func ValidNotificationType(t string) bool {
	switch t {
	case NotificationFriendRequestReceived,
		NotificationFriendRequestAccepted,
		NotificationFriendRequestRejected,
		NotificationFriendBlocked,
		NotificationFriendRemoved,
		NotificationFriendUnblocked,
		NotificationNewChatMessage,
		NotificationNewCommunityMessage,
		NotificationTokenCreated,
		NotificationTokenUpdated,
		NotificationTokenDeleted,
		NotificationCommunityChatCreated:
		return true
	default:
		return false
	}
}

func validateSecuritySeverity(severity string) error {
	switch severity {
	case SecuritySeverityInfo, SecuritySeverityWarning, SecuritySeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid security event severity %q", severity)
	}
}

func validateEnvelope(envelope Envelope) error {
	switch {
	case envelope.Salt == "", envelope.IV == "", envelope.Tag == "":
		return fmt.Errorf("envelope salt, iv and tag are required: %w", apperr.ErrInvalidArgument)
	case envelope.EncryptionKey == "":
		return fmt.Errorf("encryption_key is required: %w", apperr.ErrInvalidArgument)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
