// Package frequency implements the proactive expression pipeline: a
// context sampler feeding a sense core that decides if, when and what kind
// of proactive utterance to produce, a planner that shapes it to the
// relationship stage, a generator that renders the final text and a
// dispatcher that delivers it through registered channels. The integrator
// owns the per-session contexts and the monitoring loop tying the stages
// together.
package frequency

import (
	"strings"
	"time"
)

// Caps for the per-context buffers. Contexts are observability state, not
// a source of truth, so old entries are simply shifted out.
const (
	contextHistoryCap = 50
	contextTopicsCap  = 5
	contextEventsCap  = 20
)

// Utterance is one recent message observed in a session.
type Utterance struct {
	Role    string
	Content string
	At      time.Time
}

// ExternalEvent is a notification or reminder visible to the sampler.
type ExternalEvent struct {
	Content      string
	HighPriority bool
	At           time.Time
}

// Context is the observed state of one session. The integrator owns the
// instance and guards it; pipeline stages only ever see copies.
type Context struct {
	SessionID string
	UserID    string

	LastUserActivity time.Time
	LastInput        string
	InputType        string // question, command, other
	UserEmotion      string

	History          []Utterance
	RecentTopics     []string
	HasOpenQuestions bool

	Notifications []ExternalEvent
	Reminders     []ExternalEvent

	SystemLoad float64

	UpdatedAt time.Time
}

func newContext(sessionID, userID string) *Context {
	return &Context{
		SessionID:  sessionID,
		UserID:     userID,
		SystemLoad: 0.5,
	}
}

// observeUser records a user utterance: activity timestamp, input
// classification, topic rotation and the open-question flag.
func (c *Context) observeUser(content string, at time.Time) {
	c.LastUserActivity = at
	c.LastInput = content
	c.InputType = classifyInput(content)
	c.HasOpenQuestions = c.InputType == "question"
	c.appendHistory(Utterance{Role: "user", Content: content, At: at})
	c.pushTopic(topicOf(content))
	c.UpdatedAt = at
}

// observeSystem records a system/AI utterance and clears the open-question
// flag since the latest question now has an answer.
func (c *Context) observeSystem(content string, at time.Time) {
	c.HasOpenQuestions = false
	c.appendHistory(Utterance{Role: "assistant", Content: content, At: at})
	c.UpdatedAt = at
}

func (c *Context) appendHistory(u Utterance) {
	c.History = append(c.History, u)
	if len(c.History) > contextHistoryCap {
		c.History = c.History[len(c.History)-contextHistoryCap:]
	}
}

func (c *Context) pushTopic(topic string) {
	if topic == "" {
		return
	}
	c.RecentTopics = append(c.RecentTopics, topic)
	if len(c.RecentTopics) > contextTopicsCap {
		c.RecentTopics = c.RecentTopics[len(c.RecentTopics)-contextTopicsCap:]
	}
}

func (c *Context) addEvent(events []ExternalEvent, event ExternalEvent) []ExternalEvent {
	events = append(events, event)
	if len(events) > contextEventsCap {
		events = events[len(events)-contextEventsCap:]
	}
	return events
}

// clone returns a shallow-safe copy for use outside the integrator's lock.
func (c *Context) clone() *Context {
	dup := *c
	dup.History = append([]Utterance(nil), c.History...)
	dup.RecentTopics = append([]string(nil), c.RecentTopics...)
	dup.Notifications = append([]ExternalEvent(nil), c.Notifications...)
	dup.Reminders = append([]ExternalEvent(nil), c.Reminders...)
	return &dup
}

// hasHighPriorityEvent reports whether any pending external event is
// flagged high priority.
func (c *Context) hasHighPriorityEvent() bool {
	for _, event := range c.Notifications {
		if event.HighPriority {
			return true
		}
	}
	for _, event := range c.Reminders {
		if event.HighPriority {
			return true
		}
	}
	return false
}

// idleTime is the span since the last user activity, saturating at cap
// when the user has never been seen.
func (c *Context) idleTime(now time.Time, cap time.Duration) time.Duration {
	if c.LastUserActivity.IsZero() {
		return cap
	}
	idle := now.Sub(c.LastUserActivity)
	if idle < 0 {
		return 0
	}
	return idle
}

func classifyInput(content string) string {
	trimmed := strings.TrimSpace(content)
	switch {
	case strings.Contains(trimmed, "?") || strings.Contains(trimmed, "？"):
		return "question"
	case strings.HasPrefix(trimmed, "/"):
		return "command"
	default:
		return "other"
	}
}

// topicOf reduces an utterance to a short topic label.
func topicOf(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	runes := []rune(trimmed)
	if len(runes) > 30 {
		return string(runes[:30])
	}
	return trimmed
}
