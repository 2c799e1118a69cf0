package frequency

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// planTemplates are keyed by (type, stage); {name} and {topic} are filled
// from the user's info. Stages without an entry fall through to the seed.
var planTemplates = map[store.ExpressionType]map[store.RelationshipStage]string{
	store.ExpressionGreeting: {
		store.StageStranger:     "Hello {name}, I hope the day is treating you well.",
		store.StageAcquaintance: "Hi {name}, good to cross paths again.",
		store.StageFamiliar:     "Hi {name}! Been thinking about {topic} since we last talked.",
		store.StageFriend:       "Hey {name}! How's {topic} coming along?",
		store.StageCloseFriend:  "Hey {name}! Missed our chats. still on about {topic}?",
	},
	store.ExpressionQuestion: {
		store.StageFamiliar:    "{name}, I was wondering how {topic} turned out?",
		store.StageFriend:      "Hey {name}, any news on {topic}?",
		store.StageCloseFriend: "So {name}, spill it. how did {topic} go?",
	},
	store.ExpressionSuggestion: {
		store.StageFamiliar: "{name}, maybe we could dig deeper into {topic} sometime.",
		store.StageFriend:   "Want to pick {topic} back up, {name}?",
	},
	store.ExpressionReminder: {
		store.StageStranger: "A gentle reminder, {name}: there is something pending for you.",
		store.StageFriend:   "Heads up {name}, don't forget about {topic}!",
	},
}

// emojiSet is the small pool appended under casual style.
var emojiSet = []string{"🙂", "✨", "👍", "🌟", "😊"}

// stageFormality maps relationship stage to default formality; user
// preferences override it.
func stageFormality(stage store.RelationshipStage) string {
	switch stage {
	case store.StageStranger, store.StageAcquaintance:
		return "formal"
	case store.StageFamiliar:
		return "neutral"
	default:
		return "casual"
	}
}

// Planner shapes a raw expression to the relationship between the platform
// and the target user.
type Planner struct {
	store *store.Store

	mu     sync.Mutex
	chance func(p float64) bool
	intn   func(n int) int
}

// NewPlanner creates a planner reading user info from st.
func NewPlanner(st *store.Store) *Planner {
	return &Planner{
		store:  st,
		chance: func(p float64) bool { return rand.Float64() < p },
		intn:   rand.Intn,
	}
}

// SetDice replaces the randomness sources. Tests only.
func (p *Planner) SetDice(chance func(p float64) bool, intn func(n int) int) {
	p.mu.Lock()
	p.chance = chance
	p.intn = intn
	p.mu.Unlock()
}

// Plan loads the target user, derives the relationship stage and rewrites
// the content for it: optional template substitution, formality rewrite
// and emoji decoration.
func (p *Planner) Plan(ctx context.Context, expr *Expression) error {
	info := p.loadUserInfo(ctx, expr.UserID)
	expr.User = info
	expr.Stage = store.StageForInteractionCount(info.InteractionCount)

	topic := firstNonEmpty(firstOf(info.Topics), expr.ContextReference, "our last conversation")

	p.mu.Lock()
	useTemplate := p.chance(0.3)
	emojiDraw := p.chance(0.5)
	emojiIdx := p.intn(len(emojiSet))
	p.mu.Unlock()

	if useTemplate {
		if template, ok := planTemplates[expr.Type][expr.Stage]; ok {
			content := strings.ReplaceAll(template, "{name}", info.Name)
			expr.Content = strings.ReplaceAll(content, "{topic}", topic)
		}
	}

	formality := info.Formality
	if formality == "" {
		formality = stageFormality(expr.Stage)
	}

	switch formality {
	case "formal":
		expr.Content = applyHonorifics(expr.Content)
	case "casual":
		if emojiAllowed(info) && emojiDraw {
			emoji := info.PreferredEmoji
			if emoji == "" {
				emoji = emojiSet[emojiIdx]
			}
			expr.Content = strings.TrimSpace(expr.Content) + " " + emoji
		}
	}
	return nil
}

// loadUserInfo reads the user record, falling back to neutral defaults so
// planning never fails on a missing or unreachable user.
func (p *Planner) loadUserInfo(ctx context.Context, userID string) *UserInfo {
	info := &UserInfo{Name: userID}
	if p.store == nil {
		return info
	}

	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		slog.Warn("planner user lookup failed, using defaults", "user_id", userID, "error", err)
		return info
	}
	if user == nil {
		return info
	}

	info.InteractionCount = user.InteractionCount
	info.Topics = user.Preferences.Topics
	info.PreferredEmoji = user.Preferences.PreferredEmoji
	info.Formality = user.Preferences.Formality
	info.UseEmoji = user.Preferences.UseEmoji
	if user.Preferences.PreferredName != "" {
		info.Name = user.Preferences.PreferredName
	} else if user.Name != "" {
		info.Name = user.Name
	}
	return info
}

// applyHonorifics rewrites informal address to its polite form.
func applyHonorifics(content string) string {
	content = strings.ReplaceAll(content, "你", "您")
	content = strings.ReplaceAll(content, "Hey", "Hello")
	return strings.ReplaceAll(content, "hey", "hello")
}

func emojiAllowed(info *UserInfo) bool {
	if info.UseEmoji != nil {
		return *info.UseEmoji
	}
	return true
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
