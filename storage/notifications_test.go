package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomint/apperr"
)

func TestNotificationLifecycle(t *testing.T) {
	store, mock := newTestStoreWithClock(t)
	sender := "alice"

	first, err := store.CreateNotification(Notification{
		Recipient: "bob",
		Sender:    &sender,
		Type:      NotificationNewChatMessage,
		Message:   "New message from alice",
		Metadata:  json.RawMessage(`{"action":"chat_message"}`),
	})
	require.NoError(t, err)
	mock.Add(time.Second)
	second, err := store.CreateNotification(Notification{
		Recipient: "bob",
		Type:      NotificationTokenCreated,
		Message:   "Token created",
	})
	require.NoError(t, err)
	_, err = store.CreateNotification(Notification{Recipient: "carol", Type: NotificationFriendBlocked, Message: "x"})
	require.NoError(t, err)

	all, err := store.ListNotifications("bob", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")
	require.NotNil(t, all[1].Sender)
	assert.Equal(t, "alice", *all[1].Sender)
	assert.JSONEq(t, `{"action":"chat_message"}`, string(all[1].Metadata))
	assert.Nil(t, all[0].Metadata)

	count, err := store.CountUnreadNotifications("bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	read, err := store.MarkNotificationRead(first.ID, "bob")
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	_, err = store.MarkNotificationRead(first.ID, "carol")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	unread, err := store.ListNotifications("bob", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	flipped, err := store.MarkAllNotificationsRead("bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, flipped)

	snapshot, err := store.DeleteNotification(second.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, second.ID, snapshot.ID)
	assert.True(t, snapshot.IsRead)

	_, err = store.DeleteNotification(second.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateNotificationRejectsUnknownType(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateNotification(Notification{Recipient: "bob", Type: "SOMETHING_ELSE", Message: "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = store.CreateNotification(Notification{Recipient: "bob", Type: NotificationTokenDeleted, Metadata: json.RawMessage("{")})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
