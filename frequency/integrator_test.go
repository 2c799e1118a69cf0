package frequency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/ai/llm"
	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/dialogue"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/realtime"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// The integrator doubles as the dialogue manager's frequency hook.
var _ dialogue.FrequencyHook = (*Integrator)(nil)

type envelopeRecorder struct {
	mu        sync.Mutex
	envelopes []*realtime.Envelope
}

func (r *envelopeRecorder) deliver(_ context.Context, env *realtime.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
	return nil
}

func (r *envelopeRecorder) messagesOfType(eventType string) []*realtime.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*realtime.Message
	for _, env := range r.envelopes {
		for _, msg := range env.Messages {
			if msg.Type == eventType {
				out = append(out, msg)
			}
		}
	}
	return out
}

type integratorRig struct {
	store      *store.Store
	notifier   *realtime.Notifier
	router     *realtime.Router
	optimizer  *realtime.Optimizer
	integrator *Integrator
	llm        *llm.Fake
}

func newIntegratorRig(t *testing.T, threshold float64) *integratorRig {
	t.Helper()
	p := &profile.Profile{
		Driver:              "memory",
		CacheTTL:            300,
		ExpressionThreshold: threshold,
		ExpressionCooldown:  300,
		MonitoringInterval:  60,
	}
	st := newTestStore(t)

	router := realtime.NewRouter(100, 1000)
	optimizer := realtime.NewOptimizer(20, 10*time.Millisecond, 1000, func(ctx context.Context, userID string, env *realtime.Envelope) {
		router.DeliverToUser(ctx, userID, env)
	})
	notifier := realtime.NewNotifier(st, router, optimizer, 100, 1000)

	fake := llm.NewFake("seed text", "Rendered proactive line")
	integrator := NewIntegrator(st, fake, notifier, p)
	integrator.SetClock(fixedClock(testClock))
	integrator.Sense().SetDice(func(float64) bool { return false }, func(int) int { return 0 })

	integrator.Start()
	t.Cleanup(integrator.Stop)
	return &integratorRig{
		store: st, notifier: notifier, router: router,
		optimizer: optimizer, integrator: integrator, llm: fake,
	}
}

func (rig *integratorRig) connect(ctx context.Context, userID string) *envelopeRecorder {
	rec := &envelopeRecorder{}
	rig.router.RegisterConnection(ctx, userID, rec.deliver)
	rig.optimizer.RegisterUser(userID)
	return rec
}

func TestTriggerExpressionEndToEnd(t *testing.T) {
	rig := newIntegratorRig(t, 0.4)
	ctx := context.Background()
	rec := rig.connect(ctx, "alice")

	in := rig.integrator
	in.TrackSession("s1", "alice")
	in.ProcessUserMessage("s1", "alice", "are you there?")
	in.AddNotification("s1", "deploy finished", true)

	require.NoError(t, in.TriggerExpression(ctx, "s1"))

	require.Eventually(t, func() bool {
		return len(rec.messagesOfType(realtime.EventProactiveExpression)) == 1
	}, time.Second, 5*time.Millisecond, "main channel bridges into the realtime fabric")

	msg := rec.messagesOfType(realtime.EventProactiveExpression)[0]
	assert.Equal(t, "s1", msg.SessionID)
	assert.NotEmpty(t, msg.Content)
	assert.Equal(t, string(store.ExpressionReminder), msg.Data["expression_type"],
		"high-priority event forces a reminder")

	expressions, err := rig.store.ListExpressions(ctx, &store.FindExpression{})
	require.NoError(t, err)
	require.Len(t, expressions, 1)
	assert.Equal(t, "alice", expressions[0].UserID)
	assert.Equal(t, store.ExpressionReminder, expressions[0].Type)
	assert.Equal(t, store.StageStranger, expressions[0].RelationshipStage)
	assert.Greater(t, expressions[0].PriorityScore, 0.0)

	t.Run("cooldown suppresses the next trigger", func(t *testing.T) {
		require.NoError(t, in.TriggerExpression(ctx, "s1"))
		expressions, err := rig.store.ListExpressions(ctx, &store.FindExpression{})
		require.NoError(t, err)
		assert.Len(t, expressions, 1, "nothing new inside the cooldown window")
	})
}

func TestTriggerExpressionUntrackedSession(t *testing.T) {
	rig := newIntegratorRig(t, 0.4)
	err := rig.integrator.TriggerExpression(context.Background(), "ghost")
	assert.ErrorIs(t, err, errkind.ErrNotFound)
}

func TestRelationshipStageHook(t *testing.T) {
	rig := newIntegratorRig(t, 0.4)
	ctx := context.Background()

	assert.Equal(t, store.StageStranger, rig.integrator.RelationshipStage(ctx, "nobody"))

	_, err := rig.store.UpsertUser(ctx, &store.User{ID: "alice", Name: "Alice"})
	require.NoError(t, err)
	_, err = rig.store.IncrementUserInteraction(ctx, "alice", 25)
	require.NoError(t, err)
	assert.Equal(t, store.StageFamiliar, rig.integrator.RelationshipStage(ctx, "alice"))
}

func TestObserveHooksFeedContext(t *testing.T) {
	rig := newIntegratorRig(t, 0.4)
	in := rig.integrator

	in.ObserveUserMessage("s1", "alice", "what about the trip?")
	in.ObserveSystemResponse("s1", "The trip looks great.")

	in.mu.Lock()
	c := in.contexts["s1"]
	in.mu.Unlock()
	require.NotNil(t, c)
	assert.Equal(t, "alice", c.UserID)
	assert.Len(t, c.History, 2)
	assert.False(t, c.HasOpenQuestions, "the system reply settles the open question")
}

func TestRegisterUserActivityBumpsInteraction(t *testing.T) {
	rig := newIntegratorRig(t, 0.4)
	ctx := context.Background()

	rig.integrator.RegisterUserActivity(ctx, "s1", "alice", "session_open")
	user, err := rig.store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(1), user.InteractionCount)
}

func TestStopIdempotent(t *testing.T) {
	rig := newIntegratorRig(t, 0.4)
	rig.integrator.Stop()
	rig.integrator.Stop()
}
