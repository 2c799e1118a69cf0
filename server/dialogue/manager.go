// Package dialogue processes turns for the AI-bearing dialogue types:
// private assistant chat, self-reflection, mixed human/AI groups and
// AI-to-AI dialogues.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/RcityLucas/Prizm-Agent-sub001/ai/llm"
	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/realtime"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// historyLimit bounds how many prior turns feed the LLM context.
const historyLimit = 20

// memoryLimit bounds retrieved memories for private assistant context.
const memoryLimit = 5

// FrequencyHook is the dialogue manager's view of the frequency integrator.
// When attached, AI turns carry frequency-aware metadata and user activity
// feeds the context sampler.
type FrequencyHook interface {
	RelationshipStage(ctx context.Context, userID string) store.RelationshipStage
	ObserveUserMessage(sessionID, userID, content string)
	ObserveSystemResponse(sessionID, content string)
}

// Response is the composed result of one ProcessInput call.
type Response struct {
	ID        string         `json:"id"`
	Success   bool           `json:"success"`
	Input     string         `json:"input"`
	Response  string         `json:"response"`
	SessionID string         `json:"sessionId"`
	Timestamp int64          `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Manager dispatches user input per dialogue type and persists both sides
// of the exchange.
type Manager struct {
	store    *store.Store
	llm      llm.Service
	notifier *realtime.Notifier
	freq     FrequencyHook
	now      func() time.Time
}

// NewManager creates a dialogue manager. notifier may be nil in tests that
// only care about persistence.
func NewManager(st *store.Store, svc llm.Service, notifier *realtime.Notifier) *Manager {
	return &Manager{store: st, llm: svc, notifier: notifier, now: time.Now}
}

// AttachFrequency wires the frequency integrator in.
func (m *Manager) AttachFrequency(hook FrequencyHook) { m.freq = hook }

// SetClock replaces the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CreateSession opens a session with the given dialogue topology.
func (m *Manager) CreateSession(ctx context.Context, userID string, dialogueType store.DialogueType, title string, participants []string) (*store.Session, error) {
	dialogueType = store.CanonicalDialogueType(string(dialogueType))
	if dialogueType == "" {
		dialogueType = store.DialogueHumanAIPrivate
	}
	if !dialogueType.IsValid() {
		return nil, fmt.Errorf("unsupported dialogue type %q: %w", dialogueType, errkind.ErrInvalidInput)
	}
	if len(participants) == 0 {
		participants = []string{userID}
	}

	session, err := m.store.CreateSession(ctx, &store.Session{
		UserID: userID,
		Title:  title,
		Metadata: store.SessionMetadata{
			DialogueType: dialogueType,
			Participants: participants,
		},
	})
	if err != nil {
		return nil, err
	}
	if m.notifier != nil {
		m.notifier.SessionCreated(ctx, session)
	}
	return session, nil
}

// CreateTurn persists a turn directly, bypassing LLM processing. Used by
// system traffic and by the expression dispatcher's in-app bridge.
func (m *Manager) CreateTurn(ctx context.Context, sessionID string, role store.Role, content string, metadata *store.TurnMetadata) (*store.Turn, error) {
	if role != store.RoleHuman && role != store.RoleAI && role != store.RoleSystem {
		return nil, fmt.Errorf("unknown role %q: %w", role, errkind.ErrInvalidInput)
	}
	turn := &store.Turn{SessionID: sessionID, Role: role, Content: content}
	if metadata != nil {
		turn.Metadata = *metadata
	}
	return m.store.CreateTurn(ctx, turn)
}

// ProcessInput runs the per-type state machine: persist the user turn,
// build the dialogue context, call the LLM, persist the AI turn and return
// the composed response. The session id must be the plain string id.
func (m *Manager) ProcessInput(ctx context.Context, sessionID, userID, content string, inputType store.MessageType, extra map[string]any) (*Response, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id must be a non-empty string: %w", errkind.ErrInvalidInput)
	}
	if content == "" {
		return nil, fmt.Errorf("input content is required: %w", errkind.ErrInvalidInput)
	}
	if inputType == "" {
		inputType = store.MessageText
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, errkind.ErrNotFound)
	}
	if userID != "" && !session.Metadata.HasParticipant(userID) {
		return nil, fmt.Errorf("user %s is not a participant of session %s: %w", userID, sessionID, errkind.ErrForbidden)
	}

	dialogueType := store.CanonicalDialogueType(string(session.Metadata.DialogueType))
	if dialogueType == "" {
		dialogueType = store.DialogueHumanAIPrivate
	}

	userTurn, err := m.store.CreateTurn(ctx, &store.Turn{
		SessionID: sessionID,
		Role:      store.RoleHuman,
		Content:   content,
		Metadata: store.TurnMetadata{
			SenderID:     userID,
			MessageType:  inputType,
			DialogueType: dialogueType,
			Extra:        extra,
		},
	})
	if err != nil {
		return nil, err
	}
	if m.freq != nil {
		m.freq.ObserveUserMessage(sessionID, userID, content)
	}

	history, err := m.history(ctx, sessionID, userTurn.ID)
	if err != nil {
		return nil, err
	}

	if !dialogueType.IsValid() || dialogueType.IsHumanOnly() {
		// Polite rejection, no LLM call, no AI turn in a human-only session.
		return &Response{
			ID:        shortuuid.New(),
			Success:   true,
			Input:     content,
			Response:  fmt.Sprintf("This session type (%s) does not support AI replies.", dialogueType),
			SessionID: sessionID,
			Timestamp: userTurn.CreatedTs,
			Metadata: map[string]any{
				"dialogue_type": string(dialogueType),
				"model":         "none",
				"user_turn_id":  userTurn.ID,
			},
		}, nil
	}

	reply, meta, llmErr := m.dispatch(ctx, session, dialogueType, userID, content, history)

	aiMeta := store.TurnMetadata{
		MessageType:  store.MessageText,
		DialogueType: dialogueType,
		Model:        meta.model,
		AIRole:       meta.aiRole,
		ToolsUsed:    meta.toolsUsed,
		ProcessedTs:  m.now().UnixMilli(),
	}
	if m.freq != nil {
		aiMeta.FrequencyAware = true
		aiMeta.RelationshipStage = string(m.freq.RelationshipStage(ctx, userID))
	}

	aiTurn, storeErr := m.store.CreateTurn(ctx, &store.Turn{
		SessionID: sessionID,
		Role:      store.RoleAI,
		Content:   reply,
		Metadata:  aiMeta,
	})
	if storeErr != nil {
		// Partial success: the user turn is durable, the AI turn is not.
		return nil, fmt.Errorf("persist ai turn: %w", storeErr)
	}

	lastActivity := aiTurn.CreatedTs
	if _, err := m.store.UpdateSession(ctx, &store.UpdateSession{ID: sessionID, LastActivityTs: &lastActivity}); err != nil {
		slog.Warn("session activity bump failed", "session_id", sessionID, "error", err)
	}

	if userID != "" {
		if _, err := m.store.IncrementUserInteraction(ctx, userID, 1); err != nil {
			slog.Warn("interaction count bump failed", "user_id", userID, "error", err)
		}
	}
	if m.freq != nil {
		m.freq.ObserveSystemResponse(sessionID, reply)
	}
	if m.notifier != nil && ctx.Err() == nil {
		m.notifier.NewMessage(ctx, session, aiTurn)
	}

	resp := &Response{
		ID:        shortuuid.New(),
		Success:   llmErr == nil,
		Input:     content,
		Response:  reply,
		SessionID: sessionID,
		Timestamp: aiTurn.CreatedTs,
		Metadata: map[string]any{
			"dialogue_type": string(dialogueType),
			"model":         meta.model,
			"turn_id":       aiTurn.ID,
			"user_turn_id":  userTurn.ID,
		},
	}
	if llmErr != nil {
		resp.Error = llmErr.Error()
	}
	return resp, nil
}

// history returns prior turns oldest-first, excluding the turn that
// triggered this processing pass.
func (m *Manager) history(ctx context.Context, sessionID, excludeID string) ([]*store.Turn, error) {
	limit := historyLimit + 1
	turns, err := m.store.ListTurns(ctx, &store.FindTurn{SessionID: &sessionID, Limit: &limit})
	if err != nil {
		return nil, err
	}
	// Newest-first from the store; reverse into dialogue order.
	out := make([]*store.Turn, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].ID != excludeID {
			out = append(out, turns[i])
		}
	}
	return out, nil
}

type replyMeta struct {
	model     string
	aiRole    string
	toolsUsed []string
}

// dispatch builds the per-type prompt and calls the LLM. A failed call
// yields the fallback reply and the error; the dialogue history stays
// well-formed either way.
func (m *Manager) dispatch(ctx context.Context, session *store.Session, dialogueType store.DialogueType, userID, content string, history []*store.Turn) (string, replyMeta, error) {
	var (
		messages []llm.Message
		meta     replyMeta
	)

	switch dialogueType {
	case store.DialogueHumanAIPrivate:
		memories := m.retrieveMemories(ctx, userID, content)
		messages = buildPrivateContext(memories, history, content)
	case store.DialogueAISelfReflection:
		messages = buildReflectionContext(history, content)
	case store.DialogueHumanAIGroup, store.DialogueAIMultiHuman:
		messages = buildGroupContext(session.Metadata.Participants, history, userID, content)
	case store.DialogueAIAI:
		var role string
		messages, role = buildAIDialogueContext(history, content)
		meta.aiRole = role
	}

	if m.llm == nil {
		meta.model = "fallback"
		return fallbackReply(content), meta, fmt.Errorf("llm dispatch: %w", errkind.ErrUpstreamUnavailable)
	}

	reply, _, err := m.llm.Chat(ctx, messages)
	if err != nil {
		meta.model = "fallback"
		return fallbackReply(content), meta, fmt.Errorf("llm dispatch: %w", err)
	}
	meta.model = m.llm.Model()
	if dialogueType == store.DialogueAIAI {
		reply = stripSelfPrefix(reply, meta.aiRole)
	}
	return strings.TrimSpace(reply), meta, nil
}

func (m *Manager) retrieveMemories(ctx context.Context, userID, query string) []*store.Memory {
	if userID == "" {
		return nil
	}
	memories, err := m.store.SearchMemories(ctx, &store.FindMemory{
		UserID: &userID,
		Query:  &query,
		Limit:  memoryLimit,
	})
	if err != nil {
		slog.Warn("memory retrieval failed", "user_id", userID, "error", err)
		return nil
	}
	return memories
}

func fallbackReply(input string) string {
	return fmt.Sprintf("I cannot generate a smart reply right now, but I received: '%s'", input)
}
