package frequency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db/memdb"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Driver: "memory", CacheTTL: 300}
	driver, err := memdb.NewDB(p)
	require.NoError(t, err)
	return store.New(driver, p)
}

func yes(float64) bool { return true }
func no(float64) bool  { return false }

func TestPlanUnknownUserDefaults(t *testing.T) {
	p := NewPlanner(newTestStore(t))
	p.SetDice(no, func(int) int { return 0 })

	expr := &Expression{UserID: "ghost", Type: store.ExpressionGreeting, Content: "Hey there"}
	require.NoError(t, p.Plan(context.Background(), expr))

	assert.Equal(t, store.StageStranger, expr.Stage)
	require.NotNil(t, expr.User)
	assert.Equal(t, "ghost", expr.User.Name)
	assert.Equal(t, "Hello there", expr.Content, "strangers get the honorific rewrite")
}

func TestPlanStageFromInteractionCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertUser(ctx, &store.User{ID: "alice", Name: "Alice"})
	require.NoError(t, err)
	_, err = st.IncrementUserInteraction(ctx, "alice", 25)
	require.NoError(t, err)

	p := NewPlanner(st)
	p.SetDice(no, func(int) int { return 0 })

	expr := &Expression{UserID: "alice", Type: store.ExpressionGreeting, Content: "Hey Alice"}
	require.NoError(t, p.Plan(ctx, expr))

	assert.Equal(t, store.StageFamiliar, expr.Stage)
	assert.Equal(t, int64(25), expr.User.InteractionCount)
	assert.Equal(t, "Hey Alice", expr.Content, "neutral formality leaves content alone")
}

func TestPlanTemplateAndEmoji(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	useEmoji := true
	_, err := st.UpsertUser(ctx, &store.User{
		ID:   "alice",
		Name: "Alice",
		Preferences: store.UserPreferences{
			PreferredName:  "Ali",
			Topics:         []string{"bouldering"},
			PreferredEmoji: "🎯",
			UseEmoji:       &useEmoji,
		},
	})
	require.NoError(t, err)
	_, err = st.IncrementUserInteraction(ctx, "alice", 150)
	require.NoError(t, err)

	p := NewPlanner(st)
	p.SetDice(yes, func(int) int { return 0 })

	expr := &Expression{UserID: "alice", Type: store.ExpressionGreeting, Content: "seed"}
	require.NoError(t, p.Plan(ctx, expr))

	assert.Equal(t, store.StageCloseFriend, expr.Stage)
	assert.Contains(t, expr.Content, "Ali", "preferred name fills the template")
	assert.Contains(t, expr.Content, "bouldering", "topic of interest fills the template")
	assert.Contains(t, expr.Content, "🎯", "preferred emoji wins over the pool")
}

func TestPlanEmojiSuppressed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	useEmoji := false
	_, err := st.UpsertUser(ctx, &store.User{
		ID: "bob", Name: "Bob",
		Preferences: store.UserPreferences{UseEmoji: &useEmoji, Formality: "casual"},
	})
	require.NoError(t, err)

	p := NewPlanner(st)
	p.SetDice(yes, func(int) int { return 0 })

	expr := &Expression{UserID: "bob", Type: store.ExpressionObservation, Content: "quiet lately"}
	require.NoError(t, p.Plan(ctx, expr))

	for _, emoji := range emojiSet {
		assert.NotContains(t, expr.Content, emoji)
	}
}

func TestApplyHonorifics(t *testing.T) {
	assert.Equal(t, "您好, hello there", applyHonorifics("你好, hey there"))
}
