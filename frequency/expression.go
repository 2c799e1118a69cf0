package frequency

import (
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// Timing modes for a proactive expression.
const (
	TimingImmediate = "immediate"
	TimingDelayed   = "delayed"
	TimingScheduled = "scheduled"
)

// Timing says when a decided expression should actually go out.
type Timing struct {
	Mode  string `json:"mode"`
	Delay int    `json:"delay_seconds"`
}

// UserInfo is the planner's summary of the target user.
type UserInfo struct {
	Name             string   `json:"name"`
	InteractionCount int64    `json:"interaction_count"`
	Topics           []string `json:"topics,omitempty"`
	PreferredEmoji   string   `json:"preferred_emoji,omitempty"`
	Formality        string   `json:"formality,omitempty"`
	UseEmoji         *bool    `json:"use_emoji,omitempty"`
}

// Expression is the pipeline object flowing sense core → planner →
// generator → dispatcher. Content starts as the sense core's seed and is
// rewritten by each downstream stage.
type Expression struct {
	ID        string
	UserID    string
	SessionID string

	Type             store.ExpressionType
	Content          string
	Style            string
	ContextReference string

	PriorityScore float64
	Timing        Timing
	Stage         store.RelationshipStage
	User          *UserInfo

	IsFallback bool
	CreatedTs  int64
}

// Record maps the finished expression onto its persisted form.
func (e *Expression) Record() *store.Expression {
	return &store.Expression{
		UserID:            e.UserID,
		SessionID:         e.SessionID,
		Type:              e.Type,
		Content:           e.Content,
		PriorityScore:     e.PriorityScore,
		RelationshipStage: e.Stage,
	}
}
