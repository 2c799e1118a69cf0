package memdb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func newTestDB(t *testing.T) store.Driver {
	t.Helper()
	db, err := NewDB(&profile.Profile{Driver: "memory"})
	require.NoError(t, err)
	return db
}

func TestCreateSessionNonceIdempotency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.CreateSession(ctx, &store.Session{
		ID: "s1", UserID: "alice", Nonce: "nonce-1", CreatedTs: 10, UpdatedTs: 10,
	})
	require.NoError(t, err)

	second, err := db.CreateSession(ctx, &store.Session{
		ID: "s2", UserID: "alice", Nonce: "nonce-1", CreatedTs: 20, UpdatedTs: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same nonce must return the existing session")

	sessions, err := db.ListSessions(ctx, &store.FindSession{})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestListSessionsFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seed := []*store.Session{
		{ID: "s1", UserID: "alice", UpdatedTs: 30, Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanHumanPrivate,
			Participants: []string{"alice", "bob"},
			Status:       store.SessionActive,
		}},
		{ID: "s2", UserID: "bob", UpdatedTs: 20, Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanAIPrivate,
			Participants: []string{"bob"},
			Status:       store.SessionActive,
		}},
		{ID: "s3", UserID: "alice", UpdatedTs: 10, Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanHumanGroup,
			Participants: []string{"alice", "bob", "carol"},
			Status:       store.SessionArchived,
		}},
	}
	for _, s := range seed {
		_, err := db.CreateSession(ctx, s)
		require.NoError(t, err)
	}

	t.Run("by participant, newest update first", func(t *testing.T) {
		participant := "bob"
		sessions, err := db.ListSessions(ctx, &store.FindSession{Participant: &participant})
		require.NoError(t, err)
		require.Len(t, sessions, 3)
		assert.Equal(t, "s1", sessions[0].ID)
		assert.Equal(t, "s3", sessions[2].ID)
	})

	t.Run("by dialogue type", func(t *testing.T) {
		dt := store.DialogueHumanAIPrivate
		sessions, err := db.ListSessions(ctx, &store.FindSession{DialogueType: &dt})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "s2", sessions[0].ID)
	})

	t.Run("CEL filter", func(t *testing.T) {
		filter := `user_id == "alice" && metadata.status == "archived"`
		sessions, err := db.ListSessions(ctx, &store.FindSession{Filter: &filter})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "s3", sessions[0].ID)
	})

	t.Run("limit and offset", func(t *testing.T) {
		limit, offset := 1, 1
		sessions, err := db.ListSessions(ctx, &store.FindSession{Limit: &limit, Offset: &offset})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "s2", sessions[0].ID)
	})
}

func TestUpdateSessionPartial(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateSession(ctx, &store.Session{
		ID: "s1", UserID: "alice", Title: "old", CreatedTs: 10, UpdatedTs: 10,
		Metadata: store.SessionMetadata{Status: store.SessionActive},
	})
	require.NoError(t, err)

	title := "new"
	updatedTs := int64(99)
	updated, err := db.UpdateSession(ctx, &store.UpdateSession{
		ID: "s1", Title: &title, UpdatedTs: &updatedTs,
		Extra: map[string]any{"pinned": true},
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "new", updated.Title)
	assert.Equal(t, int64(99), updated.UpdatedTs)
	assert.Equal(t, store.SessionActive, updated.Metadata.Status, "untouched fields survive")
	assert.Equal(t, true, updated.Metadata.Extra["pinned"])

	missing, err := db.UpdateSession(ctx, &store.UpdateSession{ID: "nope", Title: &title})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListTurnsCursor(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := db.CreateTurn(ctx, &store.Turn{
			ID:        fmt.Sprintf("t%d", i),
			SessionID: "s1",
			Role:      store.RoleHuman,
			Content:   fmt.Sprintf("msg %d", i),
			CreatedTs: int64(i * 100),
		})
		require.NoError(t, err)
	}

	sessionID := "s1"

	t.Run("newest first", func(t *testing.T) {
		turns, err := db.ListTurns(ctx, &store.FindTurn{SessionID: &sessionID})
		require.NoError(t, err)
		require.Len(t, turns, 5)
		assert.Equal(t, "t5", turns[0].ID)
		assert.Equal(t, "t1", turns[4].ID)
	})

	t.Run("before cursor is exclusive", func(t *testing.T) {
		before := "t4"
		turns, err := db.ListTurns(ctx, &store.FindTurn{SessionID: &sessionID, BeforeID: &before})
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, "t3", turns[0].ID)
	})

	t.Run("cursor with limit", func(t *testing.T) {
		before, limit := "t4", 2
		turns, err := db.ListTurns(ctx, &store.FindTurn{SessionID: &sessionID, BeforeID: &before, Limit: &limit})
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "t3", turns[0].ID)
		assert.Equal(t, "t2", turns[1].ID)
	})

	t.Run("nonexistent cursor yields empty list", func(t *testing.T) {
		before := "missing"
		turns, err := db.ListTurns(ctx, &store.FindTurn{SessionID: &sessionID, BeforeID: &before})
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}

func TestUpdateTurnReadAtFirstWriteWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateTurn(ctx, &store.Turn{
		ID: "t1", SessionID: "s1", Role: store.RoleHuman, Content: "hi",
		CreatedTs: 100,
		Metadata:  store.TurnMetadata{SenderID: "alice", ReadAt: map[string]int64{"alice": 100}},
	})
	require.NoError(t, err)

	updated, err := db.UpdateTurn(ctx, &store.UpdateTurn{ID: "t1", ReadAt: map[string]int64{"bob": 200}})
	require.NoError(t, err)
	assert.Equal(t, int64(200), updated.Metadata.ReadAt["bob"])

	// A second receipt for the same reader must not move the timestamp.
	updated, err = db.UpdateTurn(ctx, &store.UpdateTurn{ID: "t1", ReadAt: map[string]int64{"bob": 999}})
	require.NoError(t, err)
	assert.Equal(t, int64(200), updated.Metadata.ReadAt["bob"])
	assert.Equal(t, int64(100), updated.Metadata.ReadAt["alice"])
}

func TestIncrementUserInteraction(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	count, err := db.IncrementUserInteraction(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "unknown user is created on first bump")

	count, err = db.IncrementUserInteraction(ctx, "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)

	// Negative deltas are clamped so the counter never decreases.
	count, err = db.IncrementUserInteraction(ctx, "alice", -3)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestUpsertUserKeepsInteractionCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertUser(ctx, &store.User{ID: "alice", Name: "Alice", CreatedTs: 1, UpdatedTs: 1})
	require.NoError(t, err)
	_, err = db.IncrementUserInteraction(ctx, "alice", 7)
	require.NoError(t, err)

	updated, err := db.UpsertUser(ctx, &store.User{ID: "alice", Name: "Alice L", UpdatedTs: 2})
	require.NoError(t, err)
	assert.Equal(t, "Alice L", updated.Name)
	assert.Equal(t, int64(7), updated.InteractionCount)
}

func TestListMemoriesQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seed := []*store.Memory{
		{ID: "m1", UserID: "alice", Content: "likes hiking in the alps", CreatedTs: 10},
		{ID: "m2", UserID: "alice", Content: "allergic to peanuts", Summary: "diet", CreatedTs: 20},
		{ID: "m3", UserID: "bob", Content: "hiking boots size 44", CreatedTs: 30},
	}
	for _, m := range seed {
		_, err := db.CreateMemory(ctx, m)
		require.NoError(t, err)
	}

	userID, query := "alice", "hiking"
	memories, err := db.ListMemories(ctx, &store.FindMemory{UserID: &userID, Query: &query, Limit: 10})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "m1", memories[0].ID)
}
