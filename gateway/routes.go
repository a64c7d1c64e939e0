package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"gomint/apperr"
	"gomint/models"
	"gomint/rooms"
)

func (g *Gateway) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		EventSendMessage:          g.sendMessage,
		EventMarkAsRead:           g.markAsRead,
		EventTyping:               g.typing,
		EventJoinChat:             g.joinChat,
		EventGetUnreadMessages:    g.unreadMessages,
		EventSendCommunityMessage: g.sendCommunityMessage,
		EventJoinCommunityChat:    g.joinCommunityChat,
		EventCommunityTyping:      g.communityTyping,
		EventFindAllCommunityChat: g.findAllCommunities,
		EventFindOneCommunityChat: g.findOneCommunity,
		EventJoinNotifications:    g.joinNotifications,
		EventGetNotifications:     g.notifications,
		EventGetUnread:            g.unreadNotifications,
		EventGetUnreadCount:       g.unreadCount,
		EventMarkNotificationRead: g.markNotificationRead,
		EventMarkAllRead:          g.markAllNotificationsRead,
		EventRemoveNotification:   g.removeNotification,
		EventRelationshipStatus:   g.relationshipStatus,
	}
}

func (g *Gateway) sendMessage(conn Conn, data json.RawMessage) (any, error) {
	req, err := decode[sendMessageRequest](data)
	if err != nil {
		return nil, err
	}
	msg, err := g.deps.Chat.SendMessage(conn.ID(), conn.Identity(), req.Receiver, req.Content)
	if err != nil {
		return nil, err
	}
	return models.FromDirectMessage(*msg), nil
}

func (g *Gateway) markAsRead(conn Conn, data json.RawMessage) (any, error) {
	req, err := decode[messageIDRequest](data)
	if err != nil {
		return nil, err
	}
	msg, err := g.deps.Chat.MarkAsRead(conn.Identity(), req.MessageID)
	if err != nil {
		return nil, err
	}
	return models.FromDirectMessage(*msg), nil
}

func (g *Gateway) typing(conn Conn, data json.RawMessage) (any, error) {
	req, err := decode[typingRequest](data)
	if err != nil {
		return nil, err
	}
	return nil, g.deps.Chat.Typing(conn.Identity(), req.Receiver, req.IsTyping)
}

func (g *Gateway) joinChat(conn Conn, data json.RawMessage) (any, error) {
	req, err := decode[otherIdentityRequest](data)
	if err != nil {
		return nil, err
	}
	conversation, err := g.deps.Chat.JoinChat(conn.ID(), conn.Identity(), req.OtherIdentity)
	if err != nil {
		return nil, err
	}
	return models.FromDirectMessages(conversation), nil
}

func (g *Gateway) unreadMessages(conn Conn, _ json.RawMessage) (any, error) {
	unread, err := g.deps.Chat.UnreadMessages(conn.Identity())
	if err != nil {
		return nil, err
	}
	return models.FromDirectMessages(unread), nil
}

func (g *Gateway) sendCommunityMessage(conn Conn, data json.RawMessage) (any, error) {
	req, err := decode[sendCommunityMessageRequest](data)
	if err != nil {
		return nil, err
	}
	msg, err := g.deps.Communities.SendMessage(conn.Identity(), req.CommunityID, req.Content)
	if err != nil {
		return nil, err
	}
	return models.FromCommunityMessage(*msg), nil
}

func (g *Gateway) joinCommunityChat(conn Conn, data json.RawMessage) (any, error) {
	req, err := decode[communityRequest](data)
	if err != nil {
		return nil, err
	}
	c, history, err := g.deps.Communities.Join(conn.ID(), req.CommunityID)
	if err != nil {
		return nil, err
	}
	return models.CommunityHistory{
		Community: models.FromCommunity(*c),
		Messages:  models.FromCommunityMessages(history),
	}, nil
}

func (g *Gateway) communityTyping(conn Conn, data json.RawMessage) (any, error) {
	req, err := decode[communityTypingRequest](data)
	if err != nil {
		return nil, err
	}
	return nil, g.deps.Communities.Typing(conn.Identity(), req.CommunityID, req.IsTyping)
}

func (g *Gateway) findAllCommunities(_ Conn, _ json.RawMessage) (any, error) {
	all, err := g.deps.Communities.FindAll()
	if err != nil {
		return nil, err
	}
	return models.FromCommunities(all), nil
}

func (g *Gateway) findOneCommunity(_ Conn, data json.RawMessage) (any, error) {
	req, err := decode[tokenRequest](data)
	if err != nil {
		return nil, err
	}
	c, err := g.deps.Communities.FindByToken(req.TokenID)
	if err != nil {
		return nil, err
	}
	return models.FromCommunity(*c), nil
}

func (g *Gateway) joinNotifications(conn Conn, _ json.RawMessage) (any, error) {
	if err := g.deps.Rooms.Join(conn.ID(), rooms.PersonalRoom(conn.Identity())); err != nil {
		return nil, err
	}
	return joinedResponse{Status: "joined"}, nil
}

func (g *Gateway) notifications(conn Conn, _ json.RawMessage) (any, error) {
	all, err := g.deps.Notifications.FindAll(conn.Identity())
	if err != nil {
		return nil, err
	}
	return models.FromNotifications(all), nil
}

func (g *Gateway) unreadNotifications(conn Conn, _ json.RawMessage) (any, error) {
	unread, err := g.deps.Notifications.FindUnread(conn.Identity())
	if err != nil {
		return nil, err
	}
	return models.FromNotifications(unread), nil
}

func (g *Gateway) unreadCount(conn Conn, _ json.RawMessage) (any, error) {
	count, err := g.deps.Notifications.UnreadCount(conn.Identity())
	if err != nil {
		return nil, err
	}
	return models.UnreadCount{Count: count}, nil
}

func (g *Gateway) markNotificationRead(conn Conn, data json.RawMessage) (any, error) {
	id, err := requireID(data)
	if err != nil {
		return nil, err
	}
	n, err := g.deps.Notifications.MarkRead(id, conn.Identity())
	if err != nil {
		return nil, err
	}
	return models.FromNotification(*n), nil
}

func (g *Gateway) markAllNotificationsRead(conn Conn, _ json.RawMessage) (any, error) {
	remaining, err := g.deps.Notifications.MarkAllRead(conn.Identity())
	if err != nil {
		return nil, err
	}
	return models.FromNotifications(remaining), nil
}

func (g *Gateway) removeNotification(conn Conn, data json.RawMessage) (any, error) {
	id, err := requireID(data)
	if err != nil {
		return nil, err
	}
	n, err := g.deps.Notifications.Remove(id, conn.Identity())
	if err != nil {
		return nil, err
	}
	g.deps.Notifications.EmitDelete(*n)
	return models.FromNotification(*n), nil
}

func (g *Gateway) relationshipStatus(conn Conn, data json.RawMessage) (any, error) {
	req, err := decode[otherIdentityRequest](data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.OtherIdentity) == "" {
		return nil, fmt.Errorf("otherIdentity is required: %w", apperr.ErrInvalidArgument)
	}
	return g.deps.Relationships.Status(conn.Identity(), req.OtherIdentity)
}

func requireID(data json.RawMessage) (string, error) {
	req, err := decode[idRequest](data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.ID) == "" {
		return "", fmt.Errorf("id is required: %w", apperr.ErrInvalidArgument)
	}
	return req.ID, nil
}
