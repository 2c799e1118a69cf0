package store

import "encoding/json"

// RelationshipStage is the coarse familiarity bucket derived from a user's
// interaction count. It controls the formality and style of proactive output.
type RelationshipStage string

const (
	StageStranger     RelationshipStage = "stranger"
	StageAcquaintance RelationshipStage = "acquaintance"
	StageFamiliar     RelationshipStage = "familiar"
	StageFriend       RelationshipStage = "friend"
	StageCloseFriend  RelationshipStage = "close_friend"
)

// StageForInteractionCount maps an interaction count to its stage:
// stranger [0,5], acquaintance [6,20], familiar [21,50], friend [51,100],
// close_friend above that.
func StageForInteractionCount(count int64) RelationshipStage {
	switch {
	case count <= 5:
		return StageStranger
	case count <= 20:
		return StageAcquaintance
	case count <= 50:
		return StageFamiliar
	case count <= 100:
		return StageFriend
	default:
		return StageCloseFriend
	}
}

// User is a platform participant. InteractionCount is monotonically
// non-decreasing; it is only ever moved by IncrementUserInteraction.
type User struct {
	ID               string
	Name             string
	InteractionCount int64
	Preferences      UserPreferences
	CreatedTs        int64
	UpdatedTs        int64
}

// Stage returns the user's current relationship stage.
func (u *User) Stage() RelationshipStage {
	return StageForInteractionCount(u.InteractionCount)
}

// UserPreferences steers proactive expression style. Stored as one JSON column.
type UserPreferences struct {
	PreferredName  string   `json:"preferred_name,omitempty"`
	Topics         []string `json:"topics,omitempty"`
	Formality      string   `json:"formality,omitempty"` // casual, neutral, formal
	UseEmoji       *bool    `json:"use_emoji,omitempty"`
	PreferredEmoji string   `json:"preferred_emoji,omitempty"`
}

func (p UserPreferences) MarshalJSONString() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FindUser filters user lookups.
type FindUser struct {
	ID   *string
	Name *string
}

// UpdateUser is a partial update. InteractionCount is excluded on purpose;
// use IncrementUserInteraction so the counter never moves backwards.
type UpdateUser struct {
	ID          string
	Name        *string
	Preferences *UserPreferences
	UpdatedTs   *int64
}
