package community

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomint/apperr"
	"gomint/crypto"
	"gomint/identity"
	"gomint/models"
	"gomint/network"
	"gomint/notification"
	"gomint/presence"
	"gomint/rooms"
	"gomint/storage"
)

type sink struct {
	id string

	mu     sync.Mutex
	frames []network.Frame
}

func (s *sink) ID() string { return s.id }

func (s *sink) Send(payload []byte) error {
	frame, err := network.DecodeFrame(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	return nil
}

func (s *sink) byEvent(event string) []network.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []network.Frame
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

type fixture struct {
	store    *storage.Store
	clock    *clock.Mock
	registry *rooms.Registry
	presence *presence.Tracker
	notifier *notification.Service
	service  *Service
	c1       *storage.Community
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store.SetClock(mock)

	for _, wallet := range []string{"alice", "bob"} {
		require.NoError(t, store.CreateUser(storage.User{WalletAddress: wallet}))
	}

	registry := rooms.NewRegistry(nil, nil)
	tracker := presence.NewTracker()
	notifier := notification.NewService(store, registry, nil, nil)
	service := NewService(Deps{
		Store:    store,
		Users:    identity.NewDirectory(store, identity.Options{}, nil),
		Cipher:   crypto.NewEngine(),
		Rooms:    registry,
		Presence: tracker,
		Notifier: notifier,
	})

	c1, err := store.UpsertCommunity(storage.Community{ID: "c1", Name: "Mint Community", TokenID: "token-1", Creator: "alice", IsActive: true})
	require.NoError(t, err)

	return &fixture{
		store:    store,
		clock:    mock,
		registry: registry,
		presence: tracker,
		notifier: notifier,
		service:  service,
		c1:       c1,
	}
}

func (f *fixture) register(connID string) *sink {
	s := &sink{id: connID}
	f.registry.Register(s)
	return s
}

func TestJoinAndSendCommunityMessage(t *testing.T) {
	f := newFixture(t)
	aliceConn := f.register("c-alice")
	bobConn := f.register("c-bob")

	c, history, err := f.service.Join("c-alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Empty(t, history)
	_, _, err = f.service.Join("c-bob", "token-1")
	require.NoError(t, err)

	saved, err := f.service.SendMessage("alice", "c1", "gm")
	require.NoError(t, err)
	assert.NotEqual(t, "gm", saved.Envelope.Ciphertext)

	messages, err := f.store.GetCommunityMessages("c1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, saved.ID, messages[0].ID)
	assert.NotEqual(t, "gm", messages[0].Envelope.Ciphertext)

	for _, conn := range []*sink{aliceConn, bobConn} {
		frames := conn.byEvent(EventNewMessage)
		require.Len(t, frames, 1)
		var wire models.CommunityMessage
		require.NoError(t, json.Unmarshal(frames[0].Data, &wire))
		assert.Equal(t, saved.ID, wire.ID)
	}

	aliceNotifications, err := f.notifier.FindAll("alice")
	require.NoError(t, err)
	require.Len(t, aliceNotifications, 1)
	assert.Equal(t, storage.NotificationNewCommunityMessage, aliceNotifications[0].Type)
	bobNotifications, err := f.notifier.FindAll("bob")
	require.NoError(t, err)
	assert.Empty(t, bobNotifications)
}

func TestJoinReturnsAscendingHistory(t *testing.T) {
	f := newFixture(t)
	f.register("c-bob")

	first, err := f.service.SendMessage("alice", "c1", "one")
	require.NoError(t, err)
	f.clock.Add(time.Second)
	second, err := f.service.SendMessage("bob", "c1", "two")
	require.NoError(t, err)

	_, history, err := f.service.Join("c-bob", "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
}

func TestInactiveOrMissingCommunityIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.register("c-alice")

	_, err := f.service.SendMessage("alice", "nope", "gm")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.service.Deactivate("c1", "bob")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	deactivated, err := f.service.Deactivate("c1", "alice")
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	_, err = f.service.SendMessage("alice", "c1", "gm")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, _, err = f.service.Join("c-alice", "c1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = f.service.FindByToken("token-1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	all, err := f.service.FindAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSendFromUnknownSenderIsPreconditionFailed(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.SendMessage("ghost", "c1", "gm")
	assert.True(t, errors.Is(err, apperr.ErrPreconditionFailed))
}

func TestCommunityTyping(t *testing.T) {
	f := newFixture(t)
	bobConn := f.register("c-bob")
	_, _, err := f.service.Join("c-bob", "c1")
	require.NoError(t, err)

	require.NoError(t, f.service.Typing("alice", "c1", true))
	assert.Equal(t, []string{"alice"}, f.presence.CurrentTypers(rooms.CommunityRoom("c1")))

	frames := bobConn.byEvent(EventTyping)
	require.Len(t, frames, 1)
	var typing models.Typing
	require.NoError(t, json.Unmarshal(frames[0].Data, &typing))
	assert.Equal(t, models.Typing{User: "alice", IsTyping: true}, typing)
}

func TestCommunityTypingResolvesTokenID(t *testing.T) {
	f := newFixture(t)
	bobConn := f.register("c-bob")
	_, _, err := f.service.Join("c-bob", "token-1")
	require.NoError(t, err)

	require.NoError(t, f.service.Typing("alice", "token-1", true))
	assert.Equal(t, []string{"alice"}, f.presence.CurrentTypers(rooms.CommunityRoom("c1")))
	assert.Empty(t, f.presence.CurrentTypers(rooms.CommunityRoom("token-1")))
	require.Len(t, bobConn.byEvent(EventTyping), 1)

	err = f.service.Typing("alice", "no-such-community", true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.presence.CurrentTypers(rooms.CommunityRoom("no-such-community")))
	assert.Equal(t, 1, f.presence.RoomCount())
}

func TestCreateForToken(t *testing.T) {
	f := newFixture(t)
	bobConn := f.register("c-bob")
	require.NoError(t, f.registry.Join("c-bob", rooms.PersonalRoom("bob")))

	c, err := f.service.CreateForToken("token-2", "Pepe", "bob")
	require.NoError(t, err)
	assert.Equal(t, "Pepe Community", c.Name)
	assert.True(t, c.IsActive)

	found, err := f.service.FindByToken("token-2")
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	_, err = f.service.CreateForToken("token-2", "Pepe", "bob")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	require.Len(t, bobConn.byEvent(notification.EventNew), 1)
}
