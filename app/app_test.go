package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gomint/chat"
	"gomint/config"
	"gomint/gateway"
	"gomint/models"
	"gomint/network"
	"gomint/notification"
	"gomint/rooms"
	"gomint/storage"
)

const testServiceToken = "service-secret"

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()

	cfg, _, err := config.LoadOrCreateIn(t.TempDir())
	require.NoError(t, err)
	cfg.Server.HTTPAddress = "127.0.0.1:0"
	cfg.Server.TCPAddress = "127.0.0.1:0"
	cfg.Auth.AllowUnsignedWallet = true
	cfg.Auth.AutoRegister = true
	cfg.Discovery.Enabled = false
	cfg.Internal.ServiceToken = testServiceToken
	if mutate != nil {
		mutate(cfg)
	}

	a, err := Build(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func newTestServer(t *testing.T, a *App) *httptest.Server {
	t.Helper()
	handler, err := a.Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestApp(t, nil)
	srv := newTestServer(t, a)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gomint_connections_open")
}

func TestInternalEndpointsRequireServiceToken(t *testing.T) {
	a := newTestApp(t, nil)
	srv := newTestServer(t, a)

	resp, body := postJSON(t, srv.URL+"/internal/users", "wrong", map[string]string{"walletAddress": "alice"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "UNAUTHORIZED")

	events, err := a.store.GetSecurityEvents(storage.SecurityEventFilter{EventType: gateway.SecurityServiceAuth})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = a.store.GetUser("alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInternalEndpointsDisabledWithoutToken(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) { cfg.Internal.ServiceToken = "" })
	srv := newTestServer(t, a)

	resp, _ := postJSON(t, srv.URL+"/internal/users", "", map[string]string{"walletAddress": "alice"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInternalCommunityLifecycle(t *testing.T) {
	a := newTestApp(t, nil)
	srv := newTestServer(t, a)

	for _, wallet := range []string{"carol", "mallory"} {
		resp, _ := postJSON(t, srv.URL+"/internal/users", testServiceToken, map[string]string{"walletAddress": wallet})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := postJSON(t, srv.URL+"/internal/communities", testServiceToken, map[string]string{
		"tokenId": "token-9", "tokenName": "Mint", "creator": "carol",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created models.Community
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "Mint Community", created.Name)
	assert.True(t, created.IsActive)

	unread, err := a.notifications.FindUnread("carol")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, storage.NotificationCommunityChatCreated, unread[0].Type)

	resp, _ = postJSON(t, srv.URL+"/internal/communities/"+created.ID+"/deactivate", testServiceToken, map[string]string{"caller": "mallory"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = postJSON(t, srv.URL+"/internal/communities/"+created.ID+"/deactivate", testServiceToken, map[string]string{"caller": "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deactivated models.Community
	require.NoError(t, json.Unmarshal(body, &deactivated))
	assert.False(t, deactivated.IsActive)
}

func TestInternalRelationshipControlsDelivery(t *testing.T) {
	a := newTestApp(t, nil)
	srv := newTestServer(t, a)

	resp, _ := postJSON(t, srv.URL+"/internal/relationships", testServiceToken, map[string]string{
		"sender": "alice", "receiver": "bob", "status": "BLOCKED",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for _, wallet := range []string{"alice", "bob"} {
		resp, _ := postJSON(t, srv.URL+"/internal/users", testServiceToken, map[string]string{"walletAddress": wallet})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := postJSON(t, srv.URL+"/internal/relationships", testServiceToken, map[string]string{
		"sender": "alice", "receiver": "bob", "status": "blocked",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	ok, err := a.gate.CanDeliver("bob", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	resp, body = postJSON(t, srv.URL+"/internal/relationships", testServiceToken, map[string]string{
		"sender": "bob", "receiver": "alice", "status": "NONE",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":1}`, string(body))
	ok, err = a.gate.CanDeliver("bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInternalRelationshipTrimsWallets(t *testing.T) {
	a := newTestApp(t, nil)
	srv := newTestServer(t, a)

	for _, wallet := range []string{"alice", "bob"} {
		resp, _ := postJSON(t, srv.URL+"/internal/users", testServiceToken, map[string]string{"walletAddress": wallet})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := postJSON(t, srv.URL+"/internal/relationships", testServiceToken, map[string]string{
		"sender": "  alice ", "receiver": "bob\t", "status": " blocked ",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var stored relationshipRequest
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, relationshipRequest{Sender: "alice", Receiver: "bob", Status: storage.FriendStatusBlocked}, stored)

	ok, err := a.gate.CanDeliver("bob", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	resp, body = postJSON(t, srv.URL+"/internal/relationships", testServiceToken, map[string]string{
		"sender": " bob", "receiver": "alice ", "status": "none",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":1}`, string(body))
}

func TestPublishedNotificationReachesTCPClient(t *testing.T) {
	a := newTestApp(t, nil)
	require.NoError(t, a.Start())

	client, err := network.Dial(a.TCPAddr().String(), network.DialOptions{WalletAddress: "bob", Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "bob", client.Identity())

	require.Eventually(t, func() bool {
		return len(a.rooms.Members(rooms.PersonalRoom("bob"))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	url := "http://" + a.HTTPAddr().String() + "/internal/notifications"
	resp, body := postJSON(t, url, testServiceToken, notification.Event{
		Type:      storage.NotificationFriendRequestReceived,
		Recipient: "bob",
		Actor:     "alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	frame, err := client.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, notification.EventNew, frame.Event)
	var pushed models.Notification
	require.NoError(t, json.Unmarshal(frame.Data, &pushed))
	assert.Equal(t, "bob", pushed.Recipient)
	assert.Equal(t, storage.NotificationFriendRequestReceived, pushed.Type)
}

func readWSFrame(t *testing.T, conn *websocket.Conn, event string) network.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		frame, err := network.DecodeFrame(payload)
		require.NoError(t, err)
		if frame.Event == event {
			return frame
		}
	}
}

func TestWebSocketDirectMessageEndToEnd(t *testing.T) {
	a := newTestApp(t, nil)
	require.NoError(t, a.Start())

	base := "ws://" + a.HTTPAddr().String() + a.cfg.Server.WSPath

	bob, _, err := websocket.DefaultDialer.Dial(base+"?walletAddress=bob", nil)
	require.NoError(t, err)
	defer bob.Close()
	readWSFrame(t, bob, network.EventAuthenticated)

	token, err := a.authenticator.IssueToken("alice", time.Hour)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	alice, _, err := websocket.DefaultDialer.Dial(base, header)
	require.NoError(t, err)
	defer alice.Close()
	authenticated := readWSFrame(t, alice, network.EventAuthenticated)
	assert.True(t, strings.Contains(string(authenticated.Data), "alice"))

	require.Eventually(t, func() bool {
		return len(a.rooms.Members(rooms.PersonalRoom("bob"))) == 1 &&
			len(a.rooms.Members(rooms.PersonalRoom("alice"))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg, err := json.Marshal(network.Inbound{
		Event: "sendMessage",
		ID:    "42",
		Data:  json.RawMessage(`{"receiver":"bob","content":"gm"}`),
	})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, msg))

	ack := readWSFrame(t, alice, network.EventAck)
	assert.Equal(t, "42", ack.ID)

	delivered := readWSFrame(t, bob, chat.EventNewMessage)
	var dm models.DirectMessage
	require.NoError(t, json.Unmarshal(delivered.Data, &dm))
	assert.Equal(t, "alice", dm.Sender)
	assert.Equal(t, "bob", dm.Receiver)
}

func TestStopIsIdempotent(t *testing.T) {
	a := newTestApp(t, nil)
	require.NoError(t, a.Start())

	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
	assert.Error(t, a.store.Ping())
	require.NoError(t, a.Wait())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
