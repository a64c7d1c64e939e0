package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetTypingIsIdempotent(t *testing.T) {
	tracker := NewTracker()

	assert.True(t, tracker.SetTyping("user_bob", "alice", true))
	assert.False(t, tracker.SetTyping("user_bob", "alice", true))
	assert.Equal(t, []string{"alice"}, tracker.CurrentTypers("user_bob"))

	assert.False(t, tracker.SetTyping("user_bob", "carol", false))
	assert.Equal(t, []string{"alice"}, tracker.CurrentTypers("user_bob"))
}

func TestLastTyperRemovesRoomKey(t *testing.T) {
	tracker := NewTracker()

	tracker.SetTyping("community_chat_c1", "alice", true)
	tracker.SetTyping("community_chat_c1", "bob", true)
	assert.Equal(t, []string{"alice", "bob"}, tracker.CurrentTypers("community_chat_c1"))

	tracker.SetTyping("community_chat_c1", "alice", false)
	_, present := tracker.rooms["community_chat_c1"]
	assert.True(t, present)

	tracker.SetTyping("community_chat_c1", "bob", false)
	_, present = tracker.rooms["community_chat_c1"]
	assert.False(t, present)
	assert.Empty(t, tracker.CurrentTypers("community_chat_c1"))
	assert.Zero(t, tracker.RoomCount())
}

func TestConcurrentSignalsDoNotLoseUpdates(t *testing.T) {
	tracker := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tracker.SetTyping("room", fmt.Sprintf("user-%02d", i), true)
		}(i)
	}
	wg.Wait()
	assert.Len(t, tracker.CurrentTypers("room"), 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tracker.SetTyping("room", fmt.Sprintf("user-%02d", i), false)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, tracker.RoomCount())
}
