package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomint/apperr"
	"gomint/metrics"
	"gomint/network"
)

type recordingConn struct {
	id string

	mu     sync.Mutex
	frames []network.Frame
	err    error
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	frame, err := network.DecodeFrame(payload)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordingConn) received() []network.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]network.Frame(nil), c.frames...)
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(metrics.New(prometheus.NewRegistry()), nil)
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "user_abc", PersonalRoom("abc"))
	assert.Equal(t, "community_chat_42", CommunityRoom("42"))
}

func TestBroadcastReachesOnlyMembers(t *testing.T) {
	r := newRegistry(t)
	a := &recordingConn{id: "a"}
	b := &recordingConn{id: "b"}
	c := &recordingConn{id: "c"}
	for _, conn := range []*recordingConn{a, b, c} {
		r.Register(conn)
	}
	require.NoError(t, r.Join("a", "user_x"))
	require.NoError(t, r.Join("b", "user_x"))
	require.NoError(t, r.Join("c", "user_y"))

	n, err := r.BroadcastToRoom("user_x", "newMessage", map[string]string{"content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, a.received(), 1)
	require.Len(t, b.received(), 1)
	assert.Empty(t, c.received())

	var data map[string]string
	require.NoError(t, json.Unmarshal(a.received()[0].Data, &data))
	assert.Equal(t, "newMessage", a.received()[0].Event)
	assert.Equal(t, "hi", data["content"])
}

func TestBroadcastToEmptyRoomIsNoop(t *testing.T) {
	r := newRegistry(t)
	n, err := r.BroadcastToRoom("community_chat_nobody", "newCommunityMessage", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJoinUnknownConnection(t *testing.T) {
	r := newRegistry(t)
	err := r.Join("ghost", "user_x")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDisconnectClearsMemberships(t *testing.T) {
	r := newRegistry(t)
	a := &recordingConn{id: "a"}
	r.Register(a)
	require.NoError(t, r.Join("a", "user_x"))
	require.NoError(t, r.Join("a", "community_chat_1"))
	require.NoError(t, r.Join("a", "community_chat_1"))

	assert.Equal(t, []string{"community_chat_1", "user_x"}, r.RoomsOf("a"))

	left := r.Disconnect("a")
	assert.Equal(t, []string{"community_chat_1", "user_x"}, left)
	assert.Empty(t, r.RoomsOf("a"))
	assert.Empty(t, r.Members("user_x"))
	assert.Zero(t, r.RoomCount())

	n, err := r.BroadcastToRoom("user_x", "typing", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, a.received())
}

func TestLeaveKeepsOtherMembers(t *testing.T) {
	r := newRegistry(t)
	r.Register(&recordingConn{id: "a"})
	r.Register(&recordingConn{id: "b"})
	require.NoError(t, r.Join("a", "community_chat_1"))
	require.NoError(t, r.Join("b", "community_chat_1"))

	r.Leave("a", "community_chat_1")
	r.Leave("a", "community_chat_unknown")
	assert.Equal(t, []string{"b"}, r.Members("community_chat_1"))
}

func TestBroadcastToConnection(t *testing.T) {
	r := newRegistry(t)
	a := &recordingConn{id: "a"}
	r.Register(a)

	require.NoError(t, r.BroadcastToConnection("a", "ack", nil))
	require.Len(t, a.received(), 1)

	err := r.BroadcastToConnection("missing", "ack", nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestFailedSendIsNotCounted(t *testing.T) {
	r := newRegistry(t)
	ok := &recordingConn{id: "ok"}
	slow := &recordingConn{id: "slow", err: network.ErrSlowConsumer}
	r.Register(ok)
	r.Register(slow)
	require.NoError(t, r.Join("ok", "room"))
	require.NoError(t, r.Join("slow", "room"))

	n, err := r.BroadcastToRoom("room", "typing", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentBroadcastsKeepOneOrderPerRoom(t *testing.T) {
	r := newRegistry(t)
	members := make([]*recordingConn, 4)
	for i := range members {
		members[i] = &recordingConn{id: fmt.Sprintf("c%d", i)}
		r.Register(members[i])
		require.NoError(t, r.Join(members[i].id, "community_chat_1"))
	}

	const senders, perSender = 8, 25
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := r.BroadcastToRoom("community_chat_1", "newCommunityMessage", fmt.Sprintf("%d-%d", s, i))
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	reference := members[0].received()
	require.Len(t, reference, senders*perSender)
	for _, m := range members[1:] {
		got := m.received()
		require.Len(t, got, len(reference))
		for i := range got {
			require.Equal(t, string(reference[i].Data), string(got[i].Data), "member %s diverged at %d", m.id, i)
		}
	}
}
