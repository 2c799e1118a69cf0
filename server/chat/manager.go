// Package chat orchestrates human-to-human conversations: session and
// message lifecycle, read receipts, typing and list queries. Every write
// enforces participant membership.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
	"github.com/RcityLucas/Prizm-Agent-sub001/plugin/markdown"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/realtime"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

const autoTitleMaxRunes = 50

// Manager is the chat orchestrator.
type Manager struct {
	store    *store.Store
	notifier *realtime.Notifier
	now      func() time.Time
}

// NewManager creates a chat manager over the store and the fabric.
func NewManager(st *store.Store, notifier *realtime.Notifier) *Manager {
	return &Manager{store: st, notifier: notifier, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CreatePrivateChat opens a two-person session. A chat with oneself is
// rejected.
func (m *Manager) CreatePrivateChat(ctx context.Context, creatorID, otherID, title string) (*store.Session, error) {
	if creatorID == "" || otherID == "" {
		return nil, fmt.Errorf("both participants are required: %w", errkind.ErrInvalidInput)
	}
	if creatorID == otherID {
		return nil, fmt.Errorf("private chat needs two distinct users: %w", errkind.ErrInvalidInput)
	}

	session, err := m.store.CreateSession(ctx, &store.Session{
		UserID: creatorID,
		Title:  title,
		Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanHumanPrivate,
			Participants: []string{creatorID, otherID},
		},
	})
	if err != nil {
		return nil, err
	}
	m.notifier.SessionCreated(ctx, session)
	return session, nil
}

// CreateGroupChat opens a group session. Members are deduplicated and the
// creator is always included, first.
func (m *Manager) CreateGroupChat(ctx context.Context, creatorID string, memberIDs []string, title string) (*store.Session, error) {
	if creatorID == "" {
		return nil, fmt.Errorf("creator is required: %w", errkind.ErrInvalidInput)
	}
	participants := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, member := range memberIDs {
		if member == "" || seen[member] {
			continue
		}
		seen[member] = true
		participants = append(participants, member)
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("group chat needs at least one other member: %w", errkind.ErrInvalidInput)
	}

	session, err := m.store.CreateSession(ctx, &store.Session{
		UserID: creatorID,
		Title:  title,
		Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanHumanGroup,
			Participants: participants,
		},
	})
	if err != nil {
		return nil, err
	}
	m.notifier.SessionCreated(ctx, session)
	return session, nil
}

// loadMemberSession loads the session and checks the actor belongs to it.
func (m *Manager) loadMemberSession(ctx context.Context, sessionID, actorID string) (*store.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, errkind.ErrNotFound)
	}
	if !session.Metadata.HasParticipant(actorID) {
		return nil, fmt.Errorf("user %s is not a participant of session %s: %w", actorID, sessionID, errkind.ErrForbidden)
	}
	return session, nil
}

// SendMessage persists and fans out one human message. The turn is durable
// once persisted; a cancellation after that point skips delivery but the
// send counts as succeeded for persistence purposes.
func (m *Manager) SendMessage(ctx context.Context, sessionID, senderID, content string, msgType store.MessageType) (*store.Turn, error) {
	if content == "" {
		return nil, fmt.Errorf("message content is required: %w", errkind.ErrInvalidInput)
	}
	if msgType == "" {
		msgType = store.MessageText
	}

	session, err := m.loadMemberSession(ctx, sessionID, senderID)
	if err != nil {
		return nil, err
	}

	turn, err := m.store.CreateTurn(ctx, &store.Turn{
		SessionID: sessionID,
		Role:      store.RoleHuman,
		Content:   content,
		Metadata: store.TurnMetadata{
			SenderID:    senderID,
			MessageType: msgType,
			HumanChat:   true,
		},
	})
	if err != nil {
		return nil, err
	}

	update := &store.UpdateSession{ID: sessionID, LastActivityTs: &turn.CreatedTs}
	if session.Title == "" {
		if title := markdown.Title(content, autoTitleMaxRunes); title != "" {
			update.Title = &title
		}
	}
	if _, err := m.store.UpdateSession(ctx, update); err != nil {
		// The turn is durable; a failed bump only costs list freshness.
		return turn, err
	}

	if err := ctx.Err(); err != nil {
		return turn, err
	}
	m.notifier.NewMessage(ctx, session, turn)
	return turn, nil
}

// MarkAsRead records the reader's receipt and tells the sender. Repeated
// calls for the same pair change nothing after the first.
func (m *Manager) MarkAsRead(ctx context.Context, turnID, readerID string) (*store.Turn, error) {
	turn, err := m.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, fmt.Errorf("turn %s: %w", turnID, errkind.ErrNotFound)
	}
	if _, err := m.loadMemberSession(ctx, turn.SessionID, readerID); err != nil {
		return nil, err
	}

	if _, already := turn.Metadata.ReadAt[readerID]; already {
		return turn, nil
	}

	updated, err := m.store.UpdateTurn(ctx, &store.UpdateTurn{
		ID:     turnID,
		ReadAt: map[string]int64{readerID: m.now().UnixMilli()},
	})
	if err != nil {
		return nil, err
	}

	m.notifier.MessageRead(ctx, turn.SessionID, turnID, readerID, turn.Metadata.SenderID)
	return updated, nil
}

// SendTyping propagates a typing indicator to the other participants.
func (m *Manager) SendTyping(ctx context.Context, sessionID, actorID string) error {
	session, err := m.loadMemberSession(ctx, sessionID, actorID)
	if err != nil {
		return err
	}
	m.notifier.UserTyping(ctx, session, actorID)
	return nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (m *Manager) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*store.Session, error) {
	return m.store.ListSessionsForUser(ctx, userID, limit, offset)
}

// GetMessages returns the session's human-chat history, newest-first, with
// the exclusive before-id cursor.
func (m *Manager) GetMessages(ctx context.Context, sessionID, userID string, limit int, beforeID string) ([]*store.Turn, error) {
	if _, err := m.loadMemberSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return m.store.ListHumanMessages(ctx, sessionID, limit, beforeID)
}

// UnreadCounts returns, per session, how many human messages from others the
// user has not read yet. Sessions with zero unread are omitted.
func (m *Manager) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	sessions, err := m.store.ListSessionsForUser(ctx, userID, 100, 0)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	humanChat := true
	for _, session := range sessions {
		turns, err := m.store.ListTurns(ctx, &store.FindTurn{
			SessionID: &session.ID,
			HumanChat: &humanChat,
		})
		if err != nil {
			return nil, err
		}
		for _, turn := range turns {
			if turn.Metadata.SenderID == userID {
				continue
			}
			if _, read := turn.Metadata.ReadAt[userID]; !read {
				counts[session.ID]++
			}
		}
	}
	return counts, nil
}
