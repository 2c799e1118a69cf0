package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// Notifier is the typed notification layer over the router and optimizer.
// It resolves session participants, excludes the actor, stamps timestamps
// and accumulates notifications for offline recipients.
type Notifier struct {
	store     *store.Store
	router    *Router
	optimizer *Optimizer

	offlineCap int
	drainRate  rate.Limit
	now        func() time.Time

	mu      sync.Mutex
	offline map[string][]*Message // user id -> pending notifications
}

// NewNotifier creates the notifier and hooks it into the router's register
// path so reconnecting users get their summary before anything else.
func NewNotifier(st *store.Store, router *Router, optimizer *Optimizer, offlineCap int, drainPerSecond float64) *Notifier {
	if offlineCap <= 0 {
		offlineCap = 100
	}
	if drainPerSecond <= 0 {
		drainPerSecond = 20
	}
	n := &Notifier{
		store:      st,
		router:     router,
		optimizer:  optimizer,
		offlineCap: offlineCap,
		drainRate:  rate.Limit(drainPerSecond),
		now:        time.Now,
		offline:    make(map[string][]*Message),
	}
	router.OnRegister(n.onRegister)
	return n
}

// SetClock replaces the time source. Tests only.
func (n *Notifier) SetClock(now func() time.Time) { n.now = now }

// OfflineCount returns how many notifications wait for the user.
func (n *Notifier) OfflineCount(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.offline[userID])
}

// onRegister sends the offline summary on the fresh connection, then drains
// the accumulated notifications under the rate cap.
func (n *Notifier) onRegister(ctx context.Context, userID string, deliver DeliverFunc) {
	n.mu.Lock()
	pending := n.offline[userID]
	delete(n.offline, userID)
	n.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	summary := &Envelope{
		Type:      EventOfflineSummary,
		Data:      map[string]any{"count": len(pending)},
		Timestamp: n.now().UnixMilli(),
	}
	if err := deliver(ctx, summary); err != nil {
		slog.Warn("offline summary delivery failed", "user_id", userID, "error", err)
		n.requeue(userID, pending)
		return
	}

	go func() {
		limiter := rate.NewLimiter(n.drainRate, 1)
		for i, msg := range pending {
			if err := limiter.Wait(ctx); err != nil {
				n.requeue(userID, pending[i:])
				return
			}
			if err := deliver(ctx, WrapSingle(msg, n.now())); err != nil {
				slog.Warn("offline drain delivery failed", "user_id", userID, "error", err)
				n.requeue(userID, pending[i:])
				return
			}
		}
	}()
}

// requeue puts undelivered notifications back ahead of anything accumulated
// since the drain started. Overflow drops the oldest entries, same as the
// accumulator in SendToUser.
func (n *Notifier) requeue(userID string, msgs []*Message) {
	n.mu.Lock()
	merged := append(append([]*Message(nil), msgs...), n.offline[userID]...)
	if len(merged) > n.offlineCap {
		merged = merged[len(merged)-n.offlineCap:]
	}
	n.offline[userID] = merged
	n.mu.Unlock()
}

// SendToUser routes one message to a single recipient: through the optimizer
// while connected, into the offline accumulator otherwise.
func (n *Notifier) SendToUser(ctx context.Context, userID string, msg *Message, immediate bool) {
	if msg.Timestamp == 0 {
		msg.Timestamp = n.now().UnixMilli()
	}

	if n.optimizer.IsRegistered(userID) {
		if err := n.optimizer.Enqueue(ctx, userID, msg, immediate); err == nil {
			return
		}
	}
	if n.router.HasConnection(userID) {
		n.router.DeliverToUser(ctx, userID, WrapSingle(msg, n.now()))
		return
	}

	n.mu.Lock()
	list := n.offline[userID]
	if len(list) >= n.offlineCap {
		list = list[len(list)-n.offlineCap+1:]
	}
	n.offline[userID] = append(list, msg)
	n.mu.Unlock()
}

// fanOut sends the message to every session participant except the actor.
func (n *Notifier) fanOut(ctx context.Context, session *store.Session, actorID string, msg *Message, immediate bool) {
	for _, participant := range session.Metadata.Participants {
		if participant == actorID {
			continue
		}
		n.SendToUser(ctx, participant, msg, immediate)
	}
}

// SessionCreated announces a new session to its non-creator participants.
func (n *Notifier) SessionCreated(ctx context.Context, session *store.Session) {
	n.fanOut(ctx, session, session.UserID, &Message{
		Type:      EventSessionCreated,
		SessionID: session.ID,
		SenderID:  session.UserID,
		Data: map[string]any{
			"title":         session.Title,
			"dialogue_type": string(session.Metadata.DialogueType),
			"participants":  session.Metadata.Participants,
		},
	}, false)
}

// NewMessage fans a persisted turn out to the other participants. System,
// urgent and notification traffic flushes immediately.
func (n *Notifier) NewMessage(ctx context.Context, session *store.Session, turn *store.Turn) {
	immediate := false
	switch turn.Metadata.MessageType {
	case store.MessageSystem, store.MessageUrgent, store.MessageNotification:
		immediate = true
	}
	n.fanOut(ctx, session, turn.Metadata.SenderID, &Message{
		Type:      EventNewMessage,
		SessionID: session.ID,
		SenderID:  turn.Metadata.SenderID,
		Content:   turn.Content,
		Data: map[string]any{
			"message_id":   turn.ID,
			"message_type": string(turn.Metadata.MessageType),
			"role":         string(turn.Role),
		},
		Timestamp: turn.CreatedTs,
	}, immediate)
}

// NotifyTurn resolves the session by id and fans the turn out. Used by
// callers that do not already hold the session.
func (n *Notifier) NotifyTurn(ctx context.Context, sessionID string, turn *store.Turn) error {
	session, err := n.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return errors.Wrapf(errkind.ErrNotFound, "session %s", sessionID)
	}
	n.NewMessage(ctx, session, turn)
	return nil
}

// MessageRead tells the original sender their message was read.
func (n *Notifier) MessageRead(ctx context.Context, sessionID, turnID, readerID, senderID string) {
	if senderID == "" || senderID == readerID {
		return
	}
	n.SendToUser(ctx, senderID, &Message{
		Type:      EventMessageRead,
		SessionID: sessionID,
		SenderID:  readerID,
		Data: map[string]any{
			"message_id": turnID,
			"reader_id":  readerID,
			"session_id": sessionID,
		},
	}, false)
}

// UserTyping propagates a typing indicator with an immediate flush.
func (n *Notifier) UserTyping(ctx context.Context, session *store.Session, actorID string) {
	n.fanOut(ctx, session, actorID, &Message{
		Type:      EventTyping,
		SessionID: session.ID,
		SenderID:  actorID,
	}, true)
}

// SessionUpdate announces a session mutation to the other participants.
func (n *Notifier) SessionUpdate(ctx context.Context, session *store.Session, actorID string) {
	n.fanOut(ctx, session, actorID, &Message{
		Type:      EventSessionUpdate,
		SessionID: session.ID,
		SenderID:  actorID,
		Data: map[string]any{
			"title":         session.Title,
			"updated_ts":    session.UpdatedTs,
			"participants":  session.Metadata.Participants,
			"dialogue_type": string(session.Metadata.DialogueType),
		},
	}, false)
}

// StatusChanged tells a presence subscriber that a watched user changed
// state. Wired to Presence.OnStatusChange.
func (n *Notifier) StatusChanged(ctx context.Context, subscriberID, targetID string, online bool) {
	status := "offline"
	if online {
		status = "online"
	}
	n.SendToUser(ctx, subscriberID, &Message{
		Type:     EventStatusChanged,
		SenderID: targetID,
		Data: map[string]any{
			"user_id": targetID,
			"status":  status,
		},
	}, true)
}

// ProactiveExpression delivers an AI-initiated utterance to its target user.
func (n *Notifier) ProactiveExpression(ctx context.Context, userID, sessionID string, expr *store.Expression) {
	n.SendToUser(ctx, userID, &Message{
		Type:      EventProactiveExpression,
		SessionID: sessionID,
		Content:   expr.Content,
		Data: map[string]any{
			"expression_id":      expr.ID,
			"expression_type":    string(expr.Type),
			"priority_score":     expr.PriorityScore,
			"relationship_stage": string(expr.RelationshipStage),
		},
	}, false)
}
