package store

// ExpressionType is the intent class of a proactive utterance.
type ExpressionType string

const (
	ExpressionGreeting    ExpressionType = "greeting"
	ExpressionQuestion    ExpressionType = "question"
	ExpressionSuggestion  ExpressionType = "suggestion"
	ExpressionReminder    ExpressionType = "reminder"
	ExpressionObservation ExpressionType = "observation"
)

// Expression is one proactive AI utterance, persisted for later analysis.
type Expression struct {
	ID                string
	UserID            string
	SessionID         string
	Type              ExpressionType
	Content           string
	PriorityScore     float64 // in [0,1]
	RelationshipStage RelationshipStage
	CreatedTs         int64
}

// FindExpression filters expression lookups. Results are newest-first.
type FindExpression struct {
	UserID    *string
	SessionID *string
	Type      *ExpressionType

	Limit *int
}
