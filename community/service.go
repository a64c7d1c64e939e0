// Package community runs the token community chat pipeline.
package community

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gomint/apperr"
	"gomint/crypto"
	"gomint/metrics"
	"gomint/models"
	"gomint/rooms"
	"gomint/storage"
)

// Outbound event names.
const (
	EventNewMessage = "newCommunityMessage"
	EventTyping     = "communityTyping"
)

type Store interface {
	UpsertCommunity(community storage.Community) (*storage.Community, error)
	GetCommunity(id string) (*storage.Community, error)
	GetCommunityByTokenID(tokenID string) (*storage.Community, error)
	ListActiveCommunities() ([]storage.Community, error)
	SaveCommunityMessage(message storage.CommunityMessage) (*storage.CommunityMessage, error)
	GetCommunityMessages(communityID string) ([]storage.CommunityMessage, error)
}

type Users interface {
	Lookup(walletAddress string) (storage.User, error)
}

type Cipher interface {
	GenerateKey() (string, error)
	Encrypt(plaintext, key string) (crypto.Envelope, error)
}

type Rooms interface {
	Join(connID, room string) error
	BroadcastToRoom(room, event string, data any) (int, error)
}

type Presence interface {
	SetTyping(room, identity string, isTyping bool) bool
}

type Notifier interface {
	NotifyNewCommunityMessage(sender, communityID, communityName string) (*storage.Notification, error)
	NotifyCommunityChatCreated(creator, communityID, communityName string) (*storage.Notification, error)
}

// Deps are the collaborators of Service.
type Deps struct {
	Store    Store
	Users    Users
	Cipher   Cipher
	Rooms    Rooms
	Presence Presence
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Service struct {
	Deps
	logger *zap.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Deps: deps, logger: logger.Named("community")}
}

// active resolves an active community by id.
func (s *Service) active(id string) (*storage.Community, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("communityId is required: %w", apperr.ErrInvalidArgument)
	}
	c, err := s.Store.GetCommunity(id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, fmt.Errorf("community %s is inactive: %w", id, apperr.ErrNotFound)
	}
	return c, nil
}

// SendMessage persists content to an active community and broadcasts it to
// the community room. The resulting notification goes to the sender.
func (s *Service) SendMessage(sender, communityID, content string) (*storage.CommunityMessage, error) {
	if content == "" {
		return nil, fmt.Errorf("content is required: %w", apperr.ErrInvalidArgument)
	}

	c, err := s.active(communityID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Users.Lookup(sender); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("sender %s is not registered: %w", sender, apperr.ErrPreconditionFailed)
		}
		return nil, err
	}

	key, err := s.Cipher.GenerateKey()
	if err != nil {
		return nil, err
	}
	envelope, err := s.Cipher.Encrypt(content, key)
	if err != nil {
		return nil, err
	}

	saved, err := s.Store.SaveCommunityMessage(storage.CommunityMessage{
		CommunityID: c.ID,
		Sender:      sender,
		Envelope: storage.Envelope{
			Ciphertext:    envelope.Ciphertext,
			Salt:          envelope.Salt,
			IV:            envelope.IV,
			Tag:           envelope.Tag,
			EncryptionKey: key,
		},
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.RecordPersisted("community_message")

	if _, err := s.Rooms.BroadcastToRoom(rooms.CommunityRoom(c.ID), EventNewMessage, models.FromCommunityMessage(*saved)); err != nil {
		s.logger.Warn("newCommunityMessage broadcast failed", zap.String("message_id", saved.ID), zap.Error(err))
	}

	if s.Notifier != nil {
		if _, err := s.Notifier.NotifyNewCommunityMessage(sender, c.ID, c.Name); err != nil {
			s.logger.Warn("community notification failed",
				zap.String("message_id", saved.ID),
				zap.String("community_id", c.ID),
				zap.Error(err),
			)
		}
	}

	return saved, nil
}

// Join resolves a community by id, falling back to its token id, joins the
// connection to the community room and returns the full history, oldest first.
func (s *Service) Join(connID, ref string) (*storage.Community, []storage.CommunityMessage, error) {
	c, err := s.resolve(ref)
	if err != nil {
		return nil, nil, err
	}

	if err := s.Rooms.Join(connID, rooms.CommunityRoom(c.ID)); err != nil {
		return nil, nil, err
	}
	history, err := s.Store.GetCommunityMessages(c.ID)
	if err != nil {
		return nil, nil, err
	}
	return c, history, nil
}

// resolve finds an active community by id, falling back to its token id.
func (s *Service) resolve(ref string) (*storage.Community, error) {
	c, err := s.active(ref)
	if errors.Is(err, apperr.ErrNotFound) {
		c, err = s.FindByToken(ref)
	}
	return c, err
}

// Typing records sender's typing state in the community room and relays it.
// ref is resolved like Join, so a token id reaches the same room.
func (s *Service) Typing(sender, ref string, isTyping bool) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("communityId is required: %w", apperr.ErrInvalidArgument)
	}
	c, err := s.resolve(ref)
	if err != nil {
		return err
	}

	room := rooms.CommunityRoom(c.ID)
	s.Presence.SetTyping(room, sender, isTyping)
	_, err = s.Rooms.BroadcastToRoom(room, EventTyping, models.Typing{User: sender, IsTyping: isTyping})
	return err
}

// FindAll returns active communities, newest first.
func (s *Service) FindAll() ([]storage.Community, error) {
	return s.Store.ListActiveCommunities()
}

// FindByToken returns the active community bound to tokenID.
func (s *Service) FindByToken(tokenID string) (*storage.Community, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, fmt.Errorf("tokenId is required: %w", apperr.ErrInvalidArgument)
	}
	c, err := s.Store.GetCommunityByTokenID(tokenID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, fmt.Errorf("community for token %s is inactive: %w", tokenID, apperr.ErrNotFound)
	}
	return c, nil
}

// CreateForToken opens the community chat of a token. A token has at most one.
func (s *Service) CreateForToken(tokenID, tokenName, creator string) (*storage.Community, error) {
	tokenName = strings.TrimSpace(tokenName)
	if tokenName == "" {
		return nil, fmt.Errorf("token name is required: %w", apperr.ErrInvalidArgument)
	}
	if _, err := s.Users.Lookup(creator); err != nil {
		return nil, err
	}

	c, err := s.Store.UpsertCommunity(storage.Community{
		Name:     tokenName + " Community",
		TokenID:  strings.TrimSpace(tokenID),
		Creator:  creator,
		IsActive: true,
	})
	if err != nil {
		return nil, err
	}

	if s.Notifier != nil {
		if _, err := s.Notifier.NotifyCommunityChatCreated(creator, c.ID, c.Name); err != nil {
			s.logger.Warn("community created notification failed", zap.String("community_id", c.ID), zap.Error(err))
		}
	}
	return c, nil
}

// Deactivate hides a community. Only its creator may do so.
func (s *Service) Deactivate(id, caller string) (*storage.Community, error) {
	c, err := s.active(id)
	if err != nil {
		return nil, err
	}
	if c.Creator != caller {
		return nil, fmt.Errorf("only the creator can deactivate community %s: %w", c.ID, apperr.ErrForbidden)
	}
	c.IsActive = false
	return s.Store.UpsertCommunity(*c)
}
