package frequency

import (
	"strings"
	"sync"
	"time"
)

// SignalType identifies one dimension of the sampled context.
type SignalType string

const (
	SignalUserActivity        SignalType = "user_activity"
	SignalTimeElapsed         SignalType = "time_elapsed"
	SignalConversationContext SignalType = "conversation_context"
	SignalSystemState         SignalType = "system_state"
	SignalExternalEvents      SignalType = "external_events"
)

// Default signal weights for the priority blend.
var defaultSignalWeights = map[SignalType]float64{
	SignalUserActivity:        10,
	SignalTimeElapsed:         6,
	SignalConversationContext: 8,
	SignalSystemState:         5,
	SignalExternalEvents:      7,
}

const (
	idleCap      = time.Hour
	elapsedCap   = 2 * time.Hour
	snapshotRing = 50
)

// Signal is one scored dimension plus the raw features behind the score.
type Signal struct {
	Score   float64        `json:"score"`
	Details map[string]any `json:"details,omitempty"`
}

// Snapshot is one weighted multi-signal sample of a session context.
type Snapshot struct {
	Timestamp     int64                  `json:"timestamp"`
	Datetime      string                 `json:"datetime"`
	Signals       map[SignalType]*Signal `json:"signals"`
	PriorityScore float64                `json:"priority_score"`
}

// Sampler scores session contexts into snapshots. Snapshots land in a
// fixed-size ring for inspection; the ring is not a source of truth.
type Sampler struct {
	mu         sync.Mutex
	weights    map[SignalType]float64
	enabled    map[SignalType]bool
	lastSample time.Time
	history    []*Snapshot
	now        func() time.Time
}

// NewSampler creates a sampler with all signals enabled at default weights.
func NewSampler() *Sampler {
	weights := make(map[SignalType]float64, len(defaultSignalWeights))
	enabled := make(map[SignalType]bool, len(defaultSignalWeights))
	for signal, weight := range defaultSignalWeights {
		weights[signal] = weight
		enabled[signal] = true
	}
	return &Sampler{weights: weights, enabled: enabled, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (s *Sampler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetEnabled toggles one signal type in or out of the priority blend.
func (s *Sampler) SetEnabled(signal SignalType, enabled bool) {
	s.mu.Lock()
	s.enabled[signal] = enabled
	s.mu.Unlock()
}

// SetWeight overrides the weight of one signal type.
func (s *Sampler) SetWeight(signal SignalType, weight float64) {
	s.mu.Lock()
	s.weights[signal] = weight
	s.mu.Unlock()
}

// Sample scores the context into a snapshot and appends it to the ring.
func (s *Sampler) Sample(c *Context) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	snapshot := &Snapshot{
		Timestamp: now.UnixMilli(),
		Datetime:  now.Format(time.RFC3339),
		Signals: map[SignalType]*Signal{
			SignalUserActivity:        sampleUserActivity(now, c),
			SignalTimeElapsed:         sampleTimeElapsed(now, s.lastSample),
			SignalConversationContext: sampleConversation(now, c),
			SignalSystemState:         sampleSystemState(c),
			SignalExternalEvents:      sampleExternalEvents(c),
		},
	}

	var weighted, total float64
	for signal, value := range snapshot.Signals {
		if !s.enabled[signal] {
			continue
		}
		weighted += s.weights[signal] * value.Score
		total += s.weights[signal]
	}
	if total > 0 {
		snapshot.PriorityScore = clamp01(weighted / total)
	}

	s.lastSample = now
	s.history = append(s.history, snapshot)
	if len(s.history) > snapshotRing {
		s.history = s.history[len(s.history)-snapshotRing:]
	}
	return snapshot
}

// History returns a copy of the snapshot ring, oldest first.
func (s *Sampler) History() []*Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Snapshot(nil), s.history...)
}

func sampleUserActivity(now time.Time, c *Context) *Signal {
	idle := c.idleTime(now, idleCap)
	idleScore := clamp01(idle.Seconds() / idleCap.Seconds())

	inputWeight := 0.4
	switch c.InputType {
	case "question":
		inputWeight = 0.8
	case "command":
		inputWeight = 0.6
	}

	emotionWeight := 0.4
	switch c.UserEmotion {
	case "excited", "happy":
		emotionWeight = 0.6
	case "sad", "negative":
		emotionWeight = 0.8
	case "angry", "frustrated":
		emotionWeight = 0.9
	}

	return &Signal{
		Score: 0.4*idleScore + 0.35*inputWeight + 0.25*emotionWeight,
		Details: map[string]any{
			"idle_seconds": int64(idle.Seconds()),
			"input_type":   c.InputType,
			"user_emotion": c.UserEmotion,
			"has_question": strings.Contains(c.LastInput, "?") || strings.Contains(c.LastInput, "？"),
			"input_length": len([]rune(c.LastInput)),
		},
	}
}

func sampleTimeElapsed(now, lastSample time.Time) *Signal {
	var elapsed time.Duration
	if !lastSample.IsZero() {
		elapsed = now.Sub(lastSample)
	}
	elapsedScore := clamp01(elapsed.Seconds() / elapsedCap.Seconds())

	hour := now.Hour()
	period, periodWeight := dayPeriod(hour)
	weekday := now.Weekday()
	isWeekend := weekday == time.Saturday || weekday == time.Sunday

	return &Signal{
		Score: 0.6*elapsedScore + 0.4*periodWeight,
		Details: map[string]any{
			"elapsed_seconds": int64(elapsed.Seconds()),
			"hour":            hour,
			"period":          period,
			"is_weekend":      isWeekend,
		},
	}
}

func sampleConversation(now time.Time, c *Context) *Signal {
	lengthScore := clamp01(float64(len(c.History)) / 20)
	idle := c.idleTime(now, idleCap)
	isActive := len(c.History) > 0 && idle < 300*time.Second

	score := 0.3 * lengthScore
	if isActive {
		score += 0.3
	}
	if c.HasOpenQuestions {
		score += 0.4
	}
	return &Signal{
		Score: score,
		Details: map[string]any{
			"history_length":         len(c.History),
			"recent_topics":          c.RecentTopics,
			"is_active_conversation": isActive,
			"has_open_questions":     c.HasOpenQuestions,
		},
	}
}

func sampleSystemState(c *Context) *Signal {
	return &Signal{
		Score:   clamp01(c.SystemLoad),
		Details: map[string]any{"system_load": c.SystemLoad},
	}
}

func sampleExternalEvents(c *Context) *Signal {
	count := len(c.Notifications) + len(c.Reminders)
	high := c.hasHighPriorityEvent()

	score := 0.5 * clamp01(float64(count)/5)
	if high {
		score += 0.5
	}
	return &Signal{
		Score: score,
		Details: map[string]any{
			"notification_count": len(c.Notifications),
			"reminder_count":     len(c.Reminders),
			"has_high_priority":  high,
		},
	}
}

// dayPeriod buckets an hour: evening ranks highest for proactive contact,
// night lowest.
func dayPeriod(hour int) (string, float64) {
	switch {
	case hour >= 5 && hour < 12:
		return "morning", 0.6
	case hour >= 12 && hour < 18:
		return "afternoon", 0.5
	case hour >= 18 && hour < 22:
		return "evening", 0.8
	default:
		return "night", 0.2
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
