package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
)

type sinkRecorder struct {
	mu      sync.Mutex
	batches []*Envelope
	users   []string
}

func (s *sinkRecorder) sink(_ context.Context, userID string, env *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, env)
	s.users = append(s.users, userID)
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *sinkRecorder) last() *Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[len(s.batches)-1]
}

func TestBatchFlushOnSize(t *testing.T) {
	rec := &sinkRecorder{}
	// Long interval so only the size trigger can fire.
	o := NewOptimizer(20, time.Hour, 1000, rec.sink)
	o.RegisterUser("alice")
	ctx := context.Background()

	for i := 0; i < 19; i++ {
		require.NoError(t, o.Enqueue(ctx, "alice", &Message{Type: EventNewMessage, Content: fmt.Sprintf("m%d", i)}, false))
	}
	assert.Equal(t, 0, rec.count(), "under max_batch_size nothing flushes")

	require.NoError(t, o.Enqueue(ctx, "alice", &Message{Type: EventNewMessage, Content: "m19"}, false))
	require.Equal(t, 1, rec.count())

	batch := rec.last()
	assert.Equal(t, EventBatch, batch.Type)
	assert.Equal(t, 20, batch.Count)
	require.Len(t, batch.Messages, 20)
	for i, msg := range batch.Messages {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.Content, "batch preserves enqueue order")
	}
}

func TestBatchFlushOnAge(t *testing.T) {
	rec := &sinkRecorder{}
	o := NewOptimizer(20, 30*time.Millisecond, 1000, rec.sink)
	o.RegisterUser("alice")

	require.NoError(t, o.Enqueue(context.Background(), "alice", &Message{Type: EventNewMessage, Content: "lone"}, false))
	assert.Equal(t, 0, rec.count())

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.last().Count)
}

func TestBypassTypesFlushImmediately(t *testing.T) {
	rec := &sinkRecorder{}
	o := NewOptimizer(20, time.Hour, 1000, rec.sink)
	o.RegisterUser("alice")
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, "alice", &Message{Type: EventNewMessage, Content: "queued"}, false))
	require.NoError(t, o.Enqueue(ctx, "alice", &Message{Type: EventTyping}, false))

	require.Equal(t, 1, rec.count())
	batch := rec.last()
	assert.Equal(t, 2, batch.Count, "typing drags the queued message along")
	assert.Equal(t, EventTyping, batch.Messages[1].Type)
}

func TestForceImmediateFlush(t *testing.T) {
	rec := &sinkRecorder{}
	o := NewOptimizer(20, time.Hour, 1000, rec.sink)
	o.RegisterUser("alice")

	require.NoError(t, o.Enqueue(context.Background(), "alice", &Message{Type: EventNewMessage, Content: "urgent"}, true))
	require.Equal(t, 1, rec.count())
}

func TestUnknownUserRejected(t *testing.T) {
	o := NewOptimizer(20, time.Hour, 1000, (&sinkRecorder{}).sink)
	err := o.Enqueue(context.Background(), "ghost", &Message{Type: EventNewMessage}, false)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)
}

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	rec := &sinkRecorder{}
	o := NewOptimizer(20, time.Hour, 1000, rec.sink)
	o.RegisterUser("alice")

	o.Flush(context.Background(), "alice")
	assert.Equal(t, 0, rec.count())
}

func TestOptimizeStripsDebugAndTruncates(t *testing.T) {
	rec := &sinkRecorder{}
	o := NewOptimizer(20, time.Hour, 1000, rec.sink)
	o.RegisterUser("alice")

	long := strings.Repeat("x", 1500)
	original := &Message{
		Type:    EventNewMessage,
		Content: long,
		Debug:   map[string]any{"trace": "abc"},
	}
	require.NoError(t, o.Enqueue(context.Background(), "alice", original, true))

	require.Equal(t, 1, rec.count())
	sent := rec.last().Messages[0]
	assert.Len(t, sent.Content, 1000)
	assert.True(t, sent.ContentTruncated)
	assert.Nil(t, sent.Debug)

	// The producer's message is untouched.
	assert.Len(t, original.Content, 1500)
	assert.NotNil(t, original.Debug)
}

func TestOptimizeTruncatesRunesNotBytes(t *testing.T) {
	rec := &sinkRecorder{}
	o := NewOptimizer(20, time.Hour, 1000, rec.sink)
	o.RegisterUser("alice")
	ctx := context.Background()

	long := strings.Repeat("你", 1500) // 4500 bytes
	require.NoError(t, o.Enqueue(ctx, "alice", &Message{Type: EventNewMessage, Content: long}, true))

	require.Equal(t, 1, rec.count())
	sent := rec.last().Messages[0]
	assert.Equal(t, 1000, utf8.RuneCountInString(sent.Content))
	assert.True(t, utf8.ValidString(sent.Content), "truncation never splits a rune")
	assert.True(t, sent.ContentTruncated)

	// 1200 bytes but only 400 runes: under the limit, left alone.
	short := strings.Repeat("好", 400)
	require.NoError(t, o.Enqueue(ctx, "alice", &Message{Type: EventNewMessage, Content: short}, true))
	sent = rec.last().Messages[0]
	assert.Equal(t, short, sent.Content)
	assert.False(t, sent.ContentTruncated)
}

func TestUnregisterFlushesRemainder(t *testing.T) {
	rec := &sinkRecorder{}
	o := NewOptimizer(20, time.Hour, 1000, rec.sink)
	o.RegisterUser("alice")

	require.NoError(t, o.Enqueue(context.Background(), "alice", &Message{Type: EventNewMessage, Content: "tail"}, false))
	o.UnregisterUser(context.Background(), "alice")

	require.Equal(t, 1, rec.count())
	assert.False(t, o.IsRegistered("alice"))
}
