package store

import (
	"encoding/json"
	"strings"
)

// DialogueType is the speaker topology of a session.
type DialogueType string

const (
	DialogueHumanHumanPrivate DialogueType = "human_human_private"
	DialogueHumanHumanGroup   DialogueType = "human_human_group"
	DialogueHumanAIPrivate    DialogueType = "human_ai_private"
	DialogueAIAI              DialogueType = "ai_ai_dialogue"
	DialogueAISelfReflection  DialogueType = "ai_self_reflection"
	DialogueHumanAIGroup      DialogueType = "human_ai_group"
	DialogueAIMultiHuman      DialogueType = "ai_multi_human"
)

// legacyDialogueTypes maps spellings found in old records to the canonical form.
var legacyDialogueTypes = map[string]DialogueType{
	"human_to_human_private": DialogueHumanHumanPrivate,
	"human_to_human_group":   DialogueHumanHumanGroup,
	"human_to_ai_private":    DialogueHumanAIPrivate,
	"human_to_ai_group":      DialogueHumanAIGroup,
	"ai_to_ai":               DialogueAIAI,
	"ai_to_ai_dialogue":      DialogueAIAI,
	"ai_to_multi_human":      DialogueAIMultiHuman,
	"self_reflection":        DialogueAISelfReflection,
}

// CanonicalDialogueType normalizes a stored dialogue type value. Legacy
// spellings are rewritten to the canonical form; unknown values pass
// through untouched so they round-trip.
func CanonicalDialogueType(s string) DialogueType {
	s = strings.TrimSpace(strings.ToLower(s))
	if canonical, ok := legacyDialogueTypes[s]; ok {
		return canonical
	}
	return DialogueType(s)
}

// IsValid reports whether the type is one of the seven supported topologies.
func (t DialogueType) IsValid() bool {
	switch t {
	case DialogueHumanHumanPrivate, DialogueHumanHumanGroup, DialogueHumanAIPrivate,
		DialogueAIAI, DialogueAISelfReflection, DialogueHumanAIGroup, DialogueAIMultiHuman:
		return true
	}
	return false
}

// IsHumanOnly reports whether the topology carries no AI speaker.
func (t DialogueType) IsHumanOnly() bool {
	return t == DialogueHumanHumanPrivate || t == DialogueHumanHumanGroup
}

// SessionStatus is the lifecycle state recorded in session metadata.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// Session is a durable conversation container.
type Session struct {
	ID             string
	UserID         string // creator, immutable
	Title          string
	Nonce          string // optional client idempotency key
	CreatedTs      int64  // unix milliseconds
	UpdatedTs      int64
	LastActivityTs int64
	Metadata       SessionMetadata
}

// SessionMetadata is the session's open metadata bag. Known fields are typed;
// everything else round-trips through Extra. Stored as a single JSON column.
type SessionMetadata struct {
	DialogueType DialogueType
	Participants []string // ordered, unique, creator first
	Status       SessionStatus
	Extra        map[string]any
}

// HasParticipant reports whether userID is in the participant list.
func (m *SessionMetadata) HasParticipant(userID string) bool {
	for _, p := range m.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (m SessionMetadata) MarshalJSON() ([]byte, error) {
	bag := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		bag[k] = v
	}
	if m.DialogueType != "" {
		bag["dialogue_type"] = string(m.DialogueType)
	}
	if m.Participants != nil {
		bag["participants"] = m.Participants
	}
	if m.Status != "" {
		bag["status"] = string(m.Status)
	}
	return json.Marshal(bag)
}

func (m *SessionMetadata) UnmarshalJSON(data []byte) error {
	var bag map[string]any
	if err := json.Unmarshal(data, &bag); err != nil {
		return err
	}
	if v, ok := bag["dialogue_type"].(string); ok {
		m.DialogueType = CanonicalDialogueType(v)
		delete(bag, "dialogue_type")
	}
	if v, ok := bag["participants"].([]any); ok {
		m.Participants = make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				m.Participants = append(m.Participants, s)
			}
		}
		delete(bag, "participants")
	}
	if v, ok := bag["status"].(string); ok {
		m.Status = SessionStatus(v)
		delete(bag, "status")
	}
	if len(bag) > 0 {
		m.Extra = bag
	}
	return nil
}

// FindSession filters session lookups. Nil fields are ignored.
type FindSession struct {
	ID           *string
	UserID       *string
	Participant  *string // matches any position in metadata.participants
	DialogueType *DialogueType
	Status       *SessionStatus
	Filter       *string // CEL expression over id, user_id, title and metadata.*

	Limit  *int
	Offset *int
}

// UpdateSession is a partial update. Nil fields are left unchanged.
// DialogueType and the creator are immutable and deliberately absent.
type UpdateSession struct {
	ID             string
	Title          *string
	UpdatedTs      *int64
	LastActivityTs *int64
	Participants   *[]string // creator must stay first; validated by the facade
	Status         *SessionStatus
	Extra          map[string]any // merged key-wise into metadata
}

// ApplyUpdate applies the patch in place. All drivers share this so a patch
// means the same thing on every backend.
func (s *Session) ApplyUpdate(update *UpdateSession) {
	if update.Title != nil {
		s.Title = *update.Title
	}
	if update.UpdatedTs != nil {
		s.UpdatedTs = *update.UpdatedTs
	}
	if update.LastActivityTs != nil {
		s.LastActivityTs = *update.LastActivityTs
	}
	if update.Participants != nil {
		s.Metadata.Participants = append([]string(nil), (*update.Participants)...)
	}
	if update.Status != nil {
		s.Metadata.Status = *update.Status
	}
	if len(update.Extra) > 0 {
		if s.Metadata.Extra == nil {
			s.Metadata.Extra = make(map[string]any, len(update.Extra))
		}
		for k, v := range update.Extra {
			s.Metadata.Extra[k] = v
		}
	}
}
