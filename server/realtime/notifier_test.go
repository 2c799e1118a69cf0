package realtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db/memdb"
)

type fabric struct {
	store     *store.Store
	router    *Router
	optimizer *Optimizer
	notifier  *Notifier
}

func newTestFabric(t *testing.T) *fabric {
	t.Helper()
	p := &profile.Profile{Driver: "memory", CacheTTL: 300}
	driver, err := memdb.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)

	router := NewRouter(100, 1000)
	optimizer := NewOptimizer(20, time.Hour, 1000, func(ctx context.Context, userID string, env *Envelope) {
		router.DeliverToUser(ctx, userID, env)
	})
	notifier := NewNotifier(st, router, optimizer, 100, 1000)
	return &fabric{store: st, router: router, optimizer: optimizer, notifier: notifier}
}

// connect attaches a recorder connection plus an optimizer queue for a user,
// the way the transport layer would on register_user.
func (f *fabric) connect(ctx context.Context, userID string) (*recorder, func()) {
	rec := &recorder{}
	unregister := f.router.RegisterConnection(ctx, userID, rec.deliver)
	f.optimizer.RegisterUser(userID)
	return rec, func() {
		f.optimizer.UnregisterUser(ctx, userID)
		unregister()
	}
}

func (f *fabric) newSession(t *testing.T, creator string, participants ...string) *store.Session {
	t.Helper()
	session, err := f.store.CreateSession(context.Background(), &store.Session{
		UserID: creator,
		Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanHumanGroup,
			Participants: append([]string{creator}, participants...),
		},
	})
	require.NoError(t, err)
	return session
}

func TestNewMessageExcludesActor(t *testing.T) {
	f := newTestFabric(t)
	ctx := context.Background()
	session := f.newSession(t, "alice", "bob")

	aliceRec, _ := f.connect(ctx, "alice")
	bobRec, _ := f.connect(ctx, "bob")

	turn := &store.Turn{
		ID: "t1", SessionID: session.ID, Role: store.RoleHuman, Content: "hi",
		Metadata: store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText, HumanChat: true},
	}
	f.notifier.NewMessage(ctx, session, turn)
	f.optimizer.Flush(ctx, "bob")

	require.Eventually(t, func() bool { return bobRec.count() == 1 }, time.Second, 5*time.Millisecond)
	batch := bobRec.at(0)
	require.Equal(t, 1, batch.Count)
	assert.Equal(t, EventNewMessage, batch.Messages[0].Type)
	assert.Equal(t, "t1", batch.Messages[0].Data["message_id"])
	assert.Equal(t, 0, aliceRec.count(), "the sender hears nothing")
}

func TestUrgentMessageFlushesImmediately(t *testing.T) {
	f := newTestFabric(t)
	ctx := context.Background()
	session := f.newSession(t, "alice", "bob")
	bobRec, _ := f.connect(ctx, "bob")

	f.notifier.NewMessage(ctx, session, &store.Turn{
		ID: "t1", SessionID: session.ID, Role: store.RoleHuman, Content: "now",
		Metadata: store.TurnMetadata{SenderID: "alice", MessageType: store.MessageUrgent},
	})

	assert.Equal(t, 1, bobRec.count(), "urgent traffic skips the batch window")
}

func TestOfflineRecipientGetsSummaryThenMessages(t *testing.T) {
	f := newTestFabric(t)
	ctx := context.Background()
	session := f.newSession(t, "alice", "carol")

	f.notifier.NewMessage(ctx, session, &store.Turn{
		ID: "t1", SessionID: session.ID, Role: store.RoleHuman, Content: "meeting at 3",
		Metadata: store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText, HumanChat: true},
	})
	assert.Equal(t, 1, f.notifier.OfflineCount("carol"))

	carolRec, _ := f.connect(ctx, "carol")
	require.Eventually(t, func() bool { return carolRec.count() == 2 }, time.Second, 5*time.Millisecond)

	summary := carolRec.at(0)
	assert.Equal(t, EventOfflineSummary, summary.Type)
	assert.Equal(t, 1, summary.Data["count"])

	msg := carolRec.at(1)
	require.Equal(t, 1, msg.Count)
	assert.Equal(t, "meeting at 3", msg.Messages[0].Content)
	assert.Equal(t, 0, f.notifier.OfflineCount("carol"))
}

func TestOfflineAccumulationCap(t *testing.T) {
	f := newTestFabric(t)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		f.notifier.SendToUser(ctx, "carol", &Message{Type: EventNotification, Content: fmt.Sprintf("n%d", i)}, false)
	}
	assert.Equal(t, 100, f.notifier.OfflineCount("carol"))
}

func TestRequeueDropsOldestAtCap(t *testing.T) {
	f := newTestFabric(t) // offline cap 100
	ctx := context.Background()

	for i := 0; i < 95; i++ {
		f.notifier.SendToUser(ctx, "carol", &Message{Type: EventNotification, Content: fmt.Sprintf("n%d", i)}, false)
	}

	// Ten undelivered drains go back in front of the accumulated entries.
	var undelivered []*Message
	for i := 0; i < 10; i++ {
		undelivered = append(undelivered, &Message{Type: EventNotification, Content: fmt.Sprintf("u%d", i)})
	}
	f.notifier.requeue("carol", undelivered)

	require.Equal(t, 100, f.notifier.OfflineCount("carol"))
	f.notifier.mu.Lock()
	pending := append([]*Message(nil), f.notifier.offline["carol"]...)
	f.notifier.mu.Unlock()
	assert.Equal(t, "u5", pending[0].Content, "overflow drops the oldest requeued entries")
	assert.Equal(t, "n94", pending[len(pending)-1].Content, "the newest accumulated entry survives")
}

func TestMessageReadGoesToSenderOnly(t *testing.T) {
	f := newTestFabric(t)
	ctx := context.Background()
	session := f.newSession(t, "alice", "bob")

	aliceRec, _ := f.connect(ctx, "alice")
	f.notifier.MessageRead(ctx, session.ID, "t1", "bob", "alice")
	f.optimizer.Flush(ctx, "alice")

	require.Eventually(t, func() bool { return aliceRec.count() == 1 }, time.Second, 5*time.Millisecond)
	msg := aliceRec.at(0).Messages[0]
	assert.Equal(t, EventMessageRead, msg.Type)
	assert.Equal(t, "bob", msg.Data["reader_id"])
	assert.Equal(t, "t1", msg.Data["message_id"])

	// A self-read emits nothing.
	f.notifier.MessageRead(ctx, session.ID, "t1", "alice", "alice")
	assert.Equal(t, 1, aliceRec.count())
}

func TestTypingBypassesBatching(t *testing.T) {
	f := newTestFabric(t)
	ctx := context.Background()
	session := f.newSession(t, "alice", "bob")
	bobRec, _ := f.connect(ctx, "bob")

	f.notifier.UserTyping(ctx, session, "alice")
	require.Equal(t, 1, bobRec.count())
	assert.Equal(t, EventTyping, bobRec.at(0).Messages[0].Type)
}
