package store

import "encoding/json"

// Role is the speaker class of a turn.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// MessageType classifies turn content for routing and flush policy.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessageImage        MessageType = "image"
	MessageAudio        MessageType = "audio"
	MessageSystem       MessageType = "system"
	MessageUrgent       MessageType = "urgent"
	MessageNotification MessageType = "notification"
)

// Turn is a single utterance within a session. Turns are append-only; the
// only mutation after creation is adding read-receipt keys.
type Turn struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	CreatedTs int64 // unix milliseconds
	Metadata  TurnMetadata
}

// TurnMetadata is the turn's open metadata bag, stored as one JSON column.
// ReadAt keys are only ever added, never cleared.
type TurnMetadata struct {
	SenderID    string
	MessageType MessageType
	HumanChat   bool             // true for human-to-human traffic
	ReadAt      map[string]int64 // user id -> unix ms read timestamp

	// AI-bearing dialogue extras.
	DialogueType      DialogueType
	AIRole            string // speaker label for ai_ai_dialogue
	Model             string
	ToolsUsed         []string
	ProcessedTs       int64
	FrequencyAware    bool
	RelationshipStage string

	Extra map[string]any
}

func (m TurnMetadata) MarshalJSON() ([]byte, error) {
	bag := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		bag[k] = v
	}
	if m.SenderID != "" {
		bag["sender_id"] = m.SenderID
	}
	if m.MessageType != "" {
		bag["message_type"] = string(m.MessageType)
	}
	if m.HumanChat {
		bag["human_chat"] = true
	}
	if len(m.ReadAt) > 0 {
		bag["read_at"] = m.ReadAt
	}
	if m.DialogueType != "" {
		bag["dialogue_type"] = string(m.DialogueType)
	}
	if m.AIRole != "" {
		bag["ai_role"] = m.AIRole
	}
	if m.Model != "" {
		bag["model"] = m.Model
	}
	if len(m.ToolsUsed) > 0 {
		bag["tools_used"] = m.ToolsUsed
	}
	if m.ProcessedTs != 0 {
		bag["processed_at"] = m.ProcessedTs
	}
	if m.FrequencyAware {
		bag["frequency_aware"] = true
	}
	if m.RelationshipStage != "" {
		bag["relationship_stage"] = m.RelationshipStage
	}
	return json.Marshal(bag)
}

func (m *TurnMetadata) UnmarshalJSON(data []byte) error {
	var bag map[string]any
	if err := json.Unmarshal(data, &bag); err != nil {
		return err
	}
	if v, ok := bag["sender_id"].(string); ok {
		m.SenderID = v
		delete(bag, "sender_id")
	}
	if v, ok := bag["message_type"].(string); ok {
		m.MessageType = MessageType(v)
		delete(bag, "message_type")
	}
	if v, ok := bag["human_chat"].(bool); ok {
		m.HumanChat = v
		delete(bag, "human_chat")
	}
	if v, ok := bag["read_at"].(map[string]any); ok {
		m.ReadAt = make(map[string]int64, len(v))
		for user, ts := range v {
			if f, ok := ts.(float64); ok {
				m.ReadAt[user] = int64(f)
			}
		}
		delete(bag, "read_at")
	}
	if v, ok := bag["dialogue_type"].(string); ok {
		m.DialogueType = CanonicalDialogueType(v)
		delete(bag, "dialogue_type")
	}
	if v, ok := bag["ai_role"].(string); ok {
		m.AIRole = v
		delete(bag, "ai_role")
	}
	if v, ok := bag["model"].(string); ok {
		m.Model = v
		delete(bag, "model")
	}
	if v, ok := bag["tools_used"].([]any); ok {
		m.ToolsUsed = make([]string, 0, len(v))
		for _, tool := range v {
			if s, ok := tool.(string); ok {
				m.ToolsUsed = append(m.ToolsUsed, s)
			}
		}
		delete(bag, "tools_used")
	}
	if v, ok := bag["processed_at"].(float64); ok {
		m.ProcessedTs = int64(v)
		delete(bag, "processed_at")
	}
	if v, ok := bag["frequency_aware"].(bool); ok {
		m.FrequencyAware = v
		delete(bag, "frequency_aware")
	}
	if v, ok := bag["relationship_stage"].(string); ok {
		m.RelationshipStage = v
		delete(bag, "relationship_stage")
	}
	if len(bag) > 0 {
		m.Extra = bag
	}
	return nil
}

// FindTurn filters turn lookups. Results are newest-first.
type FindTurn struct {
	ID        *string
	SessionID *string
	Role      *Role
	SenderID  *string
	HumanChat *bool

	// BeforeID is an exclusive cursor: only turns strictly older than the
	// referenced turn are returned. A BeforeID that resolves to no turn
	// yields an empty result, not an error.
	BeforeID *string

	Limit *int
}

// UpdateTurn is a partial update. ReadAt entries are merged, never replaced;
// an existing timestamp for a user wins over a later one.
type UpdateTurn struct {
	ID     string
	ReadAt map[string]int64
	Extra  map[string]any
}

// ApplyUpdate applies the patch in place. ReadAt merging is first-write-wins:
// once a user has a receipt it never moves.
func (t *Turn) ApplyUpdate(update *UpdateTurn) {
	if len(update.ReadAt) > 0 {
		if t.Metadata.ReadAt == nil {
			t.Metadata.ReadAt = make(map[string]int64, len(update.ReadAt))
		}
		for user, ts := range update.ReadAt {
			if _, seen := t.Metadata.ReadAt[user]; !seen {
				t.Metadata.ReadAt[user] = ts
			}
		}
	}
	if len(update.Extra) > 0 {
		if t.Metadata.Extra == nil {
			t.Metadata.Extra = make(map[string]any, len(update.Extra))
		}
		for k, v := range update.Extra {
			t.Metadata.Extra[k] = v
		}
	}
}
