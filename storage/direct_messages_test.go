package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomint/apperr"
)

func TestConversationIsOrderedAscendingAcrossBothDirections(t *testing.T) {
	store, mock := newTestStoreWithClock(t)
	mustCreateUser(t, store, "alice")
	mustCreateUser(t, store, "bob")
	mustCreateUser(t, store, "carol")

	first, err := store.SaveDirectMessage(DirectMessage{Sender: "alice", Receiver: "bob", Envelope: testEnvelope("1")})
	require.NoError(t, err)
	mock.Add(time.Millisecond)
	second, err := store.SaveDirectMessage(DirectMessage{Sender: "bob", Receiver: "alice", Envelope: testEnvelope("2")})
	require.NoError(t, err)
	// same millisecond as second; insertion order breaks the tie
	third, err := store.SaveDirectMessage(DirectMessage{Sender: "alice", Receiver: "bob", Envelope: testEnvelope("3")})
	require.NoError(t, err)
	_, err = store.SaveDirectMessage(DirectMessage{Sender: "alice", Receiver: "carol", Envelope: testEnvelope("4")})
	require.NoError(t, err)

	conversation, err := store.GetConversation("bob", "alice")
	require.NoError(t, err)
	require.Len(t, conversation, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{conversation[0].ID, conversation[1].ID, conversation[2].ID})
	assert.Equal(t, testEnvelope("2"), conversation[1].Envelope)
	assert.False(t, conversation[0].IsRead)
}

func TestSaveDirectMessageRejectsUnknownIdentity(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")

	_, err := store.SaveDirectMessage(DirectMessage{Sender: "alice", Receiver: "ghost", Envelope: testEnvelope("x")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = store.SaveDirectMessage(DirectMessage{Sender: "alice", Receiver: "ghost"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestMarkDirectMessageReadTransitionsOnce(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")
	mustCreateUser(t, store, "bob")

	message, err := store.SaveDirectMessage(DirectMessage{Sender: "alice", Receiver: "bob", Envelope: testEnvelope("1")})
	require.NoError(t, err)

	unread, err := store.GetUnreadDirectMessages("bob")
	require.NoError(t, err)
	require.Len(t, unread, 1)

	_, _, err = store.MarkDirectMessageRead(message.ID, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	updated, changed, err := store.MarkDirectMessageRead(message.ID, "bob")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, updated.IsRead)

	again, changed, err := store.MarkDirectMessageRead(message.ID, "bob")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, again.IsRead)

	unread, err = store.GetUnreadDirectMessages("bob")
	require.NoError(t, err)
	assert.Empty(t, unread)

	stored, err := store.GetDirectMessage(message.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsRead)

	_, err = store.GetDirectMessage("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
