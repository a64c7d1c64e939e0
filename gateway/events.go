package gateway

// Inbound event names.
const (
	EventSendMessage          = "sendMessage"
	EventMarkAsRead           = "markAsRead"
	EventTyping               = "typing"
	EventJoinChat             = "joinChat"
	EventGetUnreadMessages    = "getUnreadMessages"
	EventSendCommunityMessage = "sendCommunityMessage"
	EventJoinCommunityChat    = "joinCommunityChat"
	EventCommunityTyping      = "communityTyping"
	EventFindAllCommunityChat = "findAllCommunityChat"
	EventFindOneCommunityChat = "findOneCommunityChat"
	EventJoinNotifications    = "joinNotifications"
	EventGetNotifications     = "getNotifications"
	EventGetUnread            = "getUnreadNotifications"
	EventGetUnreadCount       = "getUnreadCount"
	EventMarkNotificationRead = "markNotificationAsRead"
	EventMarkAllRead          = "markAllNotificationsAsRead"
	EventRemoveNotification   = "removeNotification"
	EventRelationshipStatus   = "getRelationshipStatus"
)

type sendMessageRequest struct {
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

type messageIDRequest struct {
	MessageID string `json:"messageId"`
}

type typingRequest struct {
	Receiver string `json:"receiver"`
	IsTyping bool   `json:"isTyping"`
}

type otherIdentityRequest struct {
	OtherIdentity string `json:"otherIdentity"`
}

type sendCommunityMessageRequest struct {
	CommunityID string `json:"communityId"`
	Content     string `json:"content"`
}

type communityRequest struct {
	CommunityID string `json:"communityId"`
}

type communityTypingRequest struct {
	CommunityID string `json:"communityId"`
	IsTyping    bool   `json:"isTyping"`
}

type tokenRequest struct {
	TokenID string `json:"tokenId"`
}

type idRequest struct {
	ID string `json:"id"`
}

type joinedResponse struct {
	Status string `json:"status"`
}
