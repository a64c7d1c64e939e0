package notification

import (
	"fmt"
	"strings"

	"gomint/apperr"
	"gomint/storage"
)

// Event is a domain event reported by a collaborator (friend graph, token
// registry, community registry) that should reach a user as a notification.
type Event struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient"`
	// Actor is the identity that caused the event.
	Actor string `json:"actor"`
	// Subject names the token or community the event is about.
	Subject string `json:"subject,omitempty"`
	// SubjectID is the token, community or message id.
	SubjectID string `json:"subjectId,omitempty"`
}

type template struct {
	action  string
	idKey   string
	message func(e Event) string
}

var templates = map[string]template{
	storage.NotificationFriendRequestReceived: {
		action:  "friend_request",
		message: func(e Event) string { return fmt.Sprintf("New friend request from %s", e.Actor) },
	},
	storage.NotificationFriendRequestAccepted: {
		action:  "friend_accepted",
		message: func(e Event) string { return fmt.Sprintf("%s accepted your friend request", e.Actor) },
	},
	storage.NotificationFriendRequestRejected: {
		action:  "friend_rejected",
		message: func(e Event) string { return fmt.Sprintf("%s rejected your friend request", e.Actor) },
	},
	storage.NotificationFriendBlocked: {
		action:  "friend_blocked",
		message: func(e Event) string { return fmt.Sprintf("%s blocked you", e.Actor) },
	},
	storage.NotificationFriendRemoved: {
		action:  "friend_removed",
		message: func(e Event) string { return fmt.Sprintf("%s removed you from their friends", e.Actor) },
	},
	storage.NotificationFriendUnblocked: {
		action:  "friend_unblocked",
		message: func(e Event) string { return fmt.Sprintf("%s unblocked you", e.Actor) },
	},
	storage.NotificationNewChatMessage: {
		action:  "chat_message",
		idKey:   "messageId",
		message: func(e Event) string { return fmt.Sprintf("New message from %s", e.Actor) },
	},
	storage.NotificationNewCommunityMessage: {
		action:  "community_message",
		idKey:   "communityChatId",
		message: func(e Event) string { return fmt.Sprintf("New message in %s", e.Subject) },
	},
	storage.NotificationTokenCreated: {
		action:  "token_created",
		idKey:   "tokenId",
		message: func(e Event) string { return fmt.Sprintf("Token '%s' created successfully!", e.Subject) },
	},
	storage.NotificationTokenUpdated: {
		action:  "token_updated",
		idKey:   "tokenId",
		message: func(e Event) string { return fmt.Sprintf("Token '%s' updated successfully!", e.Subject) },
	},
	storage.NotificationTokenDeleted: {
		action:  "token_deleted",
		idKey:   "tokenId",
		message: func(e Event) string { return fmt.Sprintf("Token '%s' deleted successfully!", e.Subject) },
	},
	storage.NotificationCommunityChatCreated: {
		action:  "community_chat_created",
		idKey:   "communityChatId",
		message: func(e Event) string { return fmt.Sprintf("Community chat %q has been created", e.Subject) },
	},
}

// Publish renders e with the template of its type, persists it, and pushes
// it to the recipient.
func (s *Service) Publish(e Event) (*storage.Notification, error) {
	tmpl, ok := templates[e.Type]
	if !ok {
		return nil, fmt.Errorf("unknown notification type %q: %w", e.Type, apperr.ErrInvalidArgument)
	}
	if strings.TrimSpace(e.Actor) == "" {
		return nil, fmt.Errorf("notification actor is required: %w", apperr.ErrInvalidArgument)
	}

	metadata := map[string]string{"action": tmpl.action}
	if tmpl.idKey != "" && e.SubjectID != "" {
		metadata[tmpl.idKey] = e.SubjectID
	}
	actor := e.Actor
	return s.CreateAndEmit(e.Recipient, e.Type, tmpl.message(e), &actor, metadata)
}

// NotifyNewChatMessage tells receiver about a direct message from sender.
func (s *Service) NotifyNewChatMessage(sender, receiver, messageID string) (*storage.Notification, error) {
	return s.Publish(Event{
		Type:      storage.NotificationNewChatMessage,
		Recipient: receiver,
		Actor:     sender,
		SubjectID: messageID,
	})
}

// NotifyNewCommunityMessage notifies the sender of a community message. Other
// members are not notified; membership is not tracked here.
func (s *Service) NotifyNewCommunityMessage(sender, communityID, communityName string) (*storage.Notification, error) {
	return s.Publish(Event{
		Type:      storage.NotificationNewCommunityMessage,
		Recipient: sender,
		Actor:     sender,
		Subject:   communityName,
		SubjectID: communityID,
	})
}

// NotifyCommunityChatCreated tells the creator their community chat exists.
func (s *Service) NotifyCommunityChatCreated(creator, communityID, communityName string) (*storage.Notification, error) {
	return s.Publish(Event{
		Type:      storage.NotificationCommunityChatCreated,
		Recipient: creator,
		Actor:     creator,
		Subject:   communityName,
		SubjectID: communityID,
	})
}
