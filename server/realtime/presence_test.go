package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edgeRecorder struct {
	mu    sync.Mutex
	edges []string
}

func (e *edgeRecorder) listen(subscriberID, targetID string, online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	e.edges = append(e.edges, subscriberID+":"+targetID+":"+state)
}

func (e *edgeRecorder) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.edges...)
}

func TestHeartbeatTransitions(t *testing.T) {
	p := NewPresence(30*time.Second, 10*time.Second)
	rec := &edgeRecorder{}
	p.OnStatusChange(rec.listen)
	p.Subscribe("bob", "alice")

	p.Heartbeat("alice")
	assert.True(t, p.IsOnline("alice"))
	require.Equal(t, []string{"bob:alice:online"}, rec.all())

	// Repeated heartbeats while online emit nothing.
	p.Heartbeat("alice")
	p.Heartbeat("alice")
	assert.Len(t, rec.all(), 1)

	p.SetOffline("alice")
	assert.False(t, p.IsOnline("alice"))
	require.Equal(t, []string{"bob:alice:online", "bob:alice:offline"}, rec.all())

	// Offline again is a no-op edge.
	p.SetOffline("alice")
	assert.Len(t, rec.all(), 2)
}

func TestHeartbeatExpiry(t *testing.T) {
	p := NewPresence(30*time.Second, 10*time.Second)
	rec := &edgeRecorder{}
	p.OnStatusChange(rec.listen)
	p.Subscribe("bob", "alice")

	now := time.Unix(1000, 0)
	p.SetClock(func() time.Time { return now })
	p.Heartbeat("alice")
	assert.True(t, p.IsOnline("alice"))

	now = now.Add(31 * time.Second)
	assert.False(t, p.IsOnline("alice"), "stale heartbeat reads as offline")

	p.expire()
	require.Equal(t, []string{"bob:alice:online", "bob:alice:offline"}, rec.all())

	// A later expiry pass emits nothing more.
	p.expire()
	assert.Len(t, rec.all(), 2)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	p := NewPresence(30*time.Second, 10*time.Second)
	rec := &edgeRecorder{}
	p.OnStatusChange(rec.listen)

	p.Subscribe("bob", "alice")
	p.Subscribe("carol", "alice")
	p.Unsubscribe("bob", "alice")

	p.Heartbeat("alice")
	require.Equal(t, []string{"carol:alice:online"}, rec.all())
}

func TestOnlineUsers(t *testing.T) {
	p := NewPresence(30*time.Second, 10*time.Second)
	now := time.Unix(1000, 0)
	p.SetClock(func() time.Time { return now })

	p.Heartbeat("alice")
	p.Heartbeat("bob")
	assert.ElementsMatch(t, []string{"alice", "bob"}, p.OnlineUsers())

	now = now.Add(31 * time.Second)
	p.Heartbeat("bob")
	assert.ElementsMatch(t, []string{"bob"}, p.OnlineUsers())
}
