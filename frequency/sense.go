package frequency

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/RcityLucas/Prizm-Agent-sub001/ai/llm"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// Default type weights for the weighted random draw in decideType.
var defaultTypeWeights = map[store.ExpressionType]float64{
	store.ExpressionGreeting:    0.2,
	store.ExpressionQuestion:    0.3,
	store.ExpressionSuggestion:  0.25,
	store.ExpressionReminder:    0.15,
	store.ExpressionObservation: 0.1,
}

// fallbackSeeds backs the seed content when the LLM is unavailable.
var fallbackSeeds = map[store.ExpressionType]string{
	store.ExpressionGreeting:    "Hey, it's been a little while. How are things going?",
	store.ExpressionQuestion:    "I was curious, how did that last thing you mentioned turn out?",
	store.ExpressionSuggestion:  "Maybe we could pick up where we left off earlier?",
	store.ExpressionReminder:    "Just a heads up: you have something pending that may need attention.",
	store.ExpressionObservation: "I noticed our conversation has quieted down a bit.",
}

const decisionRing = 50

// Seed is the sense core's raw content proposal.
type Seed struct {
	Type             store.ExpressionType `json:"type"`
	Content          string               `json:"content"`
	ContextReference string               `json:"context_reference,omitempty"`
	IsFallback       bool                 `json:"is_fallback,omitempty"`
}

// Decision is one evaluation outcome, expressed or not.
type Decision struct {
	ShouldExpress bool      `json:"should_express"`
	Reason        string    `json:"reason"`
	Timing        Timing    `json:"timing"`
	Seed          *Seed     `json:"seed,omitempty"`
	PriorityScore float64   `json:"priority_score"`
	Snapshot      *Snapshot `json:"-"`
	Timestamp     int64     `json:"timestamp"`
}

// SenseCore decides if, when and what kind of proactive expression to
// produce. Cooldown is tracked per user so one chatty session cannot
// starve or spam another user.
type SenseCore struct {
	sampler   *Sampler
	llm       llm.Service
	threshold float64
	cooldown  time.Duration

	mu             sync.Mutex
	lastExpression map[string]time.Time
	history        []*Decision

	now    func() time.Time
	chance func(p float64) bool
	intn   func(n int) int
}

// NewSenseCore creates a sense core over the sampler. svc may be nil; seed
// content then always comes from the fallback table.
func NewSenseCore(sampler *Sampler, svc llm.Service, threshold float64, cooldown time.Duration) *SenseCore {
	if threshold <= 0 {
		threshold = 0.7
	}
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}
	return &SenseCore{
		sampler:        sampler,
		llm:            svc,
		threshold:      threshold,
		cooldown:       cooldown,
		lastExpression: make(map[string]time.Time),
		now:            time.Now,
		chance:         func(p float64) bool { return rand.Float64() < p },
		intn:           rand.Intn,
	}
}

// SetClock replaces the time source. Tests only.
func (sc *SenseCore) SetClock(now func() time.Time) {
	sc.mu.Lock()
	sc.now = now
	sc.mu.Unlock()
}

// SetDice replaces the randomness sources. Tests only.
func (sc *SenseCore) SetDice(chance func(p float64) bool, intn func(n int) int) {
	sc.mu.Lock()
	sc.chance = chance
	sc.intn = intn
	sc.mu.Unlock()
}

// Evaluate samples the context and runs the decision procedure. A negative
// decision is not an error; Reason says why nothing fires.
func (sc *SenseCore) Evaluate(ctx context.Context, c *Context) (*Decision, error) {
	snapshot := sc.sampler.Sample(c)

	sc.mu.Lock()
	now := sc.now()
	decision := &Decision{
		PriorityScore: snapshot.PriorityScore,
		Snapshot:      snapshot,
		Timestamp:     now.UnixMilli(),
	}

	if last, ok := sc.lastExpression[c.UserID]; ok && now.Sub(last) < sc.cooldown {
		decision.Reason = "cooldown"
		sc.recordLocked(decision)
		sc.mu.Unlock()
		return decision, nil
	}

	switch {
	case snapshot.PriorityScore >= sc.threshold:
		decision.ShouldExpress = true
		decision.Reason = "priority above threshold"
	case sc.chance(0.1 + 0.3*snapshot.PriorityScore):
		decision.ShouldExpress = true
		decision.Reason = "probability draw"
	default:
		decision.Reason = "below threshold"
		sc.recordLocked(decision)
		sc.mu.Unlock()
		return decision, nil
	}

	decision.Timing = sc.decideTimingLocked(now, snapshot, c)
	exprType := sc.decideTypeLocked(now, c)
	sc.lastExpression[c.UserID] = now
	sc.mu.Unlock()

	// The LLM call runs outside the lock; concurrent evaluations for other
	// users must not queue behind it.
	decision.Seed = sc.seedContent(ctx, exprType, now, c)

	sc.mu.Lock()
	sc.recordLocked(decision)
	sc.mu.Unlock()
	return decision, nil
}

// LastExpressionAt returns when the user last received an expression.
func (sc *SenseCore) LastExpressionAt(userID string) (time.Time, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	at, ok := sc.lastExpression[userID]
	return at, ok
}

// History returns a copy of the decision ring, oldest first.
func (sc *SenseCore) History() []*Decision {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]*Decision(nil), sc.history...)
}

func (sc *SenseCore) recordLocked(d *Decision) {
	sc.history = append(sc.history, d)
	if len(sc.history) > decisionRing {
		sc.history = sc.history[len(sc.history)-decisionRing:]
	}
}

func (sc *SenseCore) decideTimingLocked(now time.Time, snapshot *Snapshot, c *Context) Timing {
	if snapshot.PriorityScore > 0.9 || c.hasHighPriorityEvent() {
		return Timing{Mode: TimingImmediate}
	}
	if c.idleTime(now, idleCap) > 30*time.Minute {
		return Timing{Mode: TimingDelayed, Delay: 10 + sc.intn(21)}
	}
	upper := int(120 * (1 - snapshot.PriorityScore))
	if upper <= 5 {
		return Timing{Mode: TimingScheduled, Delay: 5}
	}
	return Timing{Mode: TimingScheduled, Delay: 5 + sc.intn(upper-4)}
}

func (sc *SenseCore) decideTypeLocked(now time.Time, c *Context) store.ExpressionType {
	switch {
	case c.hasHighPriorityEvent():
		return store.ExpressionReminder
	case c.idleTime(now, idleCap) >= time.Hour:
		if sc.chance(0.5) {
			return store.ExpressionGreeting
		}
		return store.ExpressionQuestion
	case c.HasOpenQuestions:
		return store.ExpressionSuggestion
	}

	var total float64
	for _, weight := range defaultTypeWeights {
		total += weight
	}
	// Fixed iteration order so a seeded draw is reproducible.
	order := []store.ExpressionType{
		store.ExpressionGreeting,
		store.ExpressionQuestion,
		store.ExpressionSuggestion,
		store.ExpressionReminder,
		store.ExpressionObservation,
	}
	draw := float64(sc.intn(1000)) / 1000 * total
	for _, exprType := range order {
		draw -= defaultTypeWeights[exprType]
		if draw < 0 {
			return exprType
		}
	}
	return store.ExpressionObservation
}

// seedContent asks the LLM for a raw content proposal tailored to the
// expression type, time of day and recent topics.
func (sc *SenseCore) seedContent(ctx context.Context, exprType store.ExpressionType, now time.Time, c *Context) *Seed {
	seed := &Seed{
		Type:             exprType,
		ContextReference: strings.Join(c.RecentTopics, ", "),
	}

	if sc.llm != nil {
		period, _ := dayPeriod(now.Hour())
		prompt := fmt.Sprintf(
			"You are an AI companion reaching out proactively. Compose one "+
				"short %s message appropriate for the %s. Keep it under two "+
				"sentences and do not mention being an AI.",
			exprType, period)
		if seed.ContextReference != "" {
			prompt += " Recent conversation topics: " + seed.ContextReference + "."
		}

		reply, _, err := sc.llm.Chat(ctx, []llm.Message{
			llm.SystemPrompt(prompt),
			llm.UserMessage("Write the message now."),
		})
		if err == nil && strings.TrimSpace(reply) != "" {
			seed.Content = strings.TrimSpace(reply)
			return seed
		}
		if err != nil {
			slog.Warn("seed content generation failed, using fallback",
				"expression_type", exprType, "error", err)
		}
	}

	seed.Content = fallbackSeeds[exprType]
	seed.IsFallback = true
	return seed
}
