package frequency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A Tuesday evening; the evening period carries the highest time weight.
var testClock = time.Date(2026, 8, 25, 19, 0, 0, 0, time.UTC)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestSampleEmptyContext(t *testing.T) {
	s := NewSampler()
	s.SetClock(fixedClock(testClock))

	snapshot := s.Sample(newContext("s1", "alice"))
	require.NotNil(t, snapshot)
	assert.GreaterOrEqual(t, snapshot.PriorityScore, 0.0)
	assert.LessOrEqual(t, snapshot.PriorityScore, 1.0)
	assert.Len(t, snapshot.Signals, 5)

	activity := snapshot.Signals[SignalUserActivity]
	require.NotNil(t, activity)
	assert.Equal(t, int64(idleCap.Seconds()), activity.Details["idle_seconds"],
		"never-seen user saturates idle time")
}

func TestSampleSignalScores(t *testing.T) {
	s := NewSampler()
	s.SetClock(fixedClock(testClock))

	c := newContext("s1", "alice")
	c.observeUser("how does this work?", testClock.Add(-time.Minute))
	c.Notifications = []ExternalEvent{{Content: "build failed", HighPriority: true}}

	snapshot := s.Sample(c)

	activity := snapshot.Signals[SignalUserActivity]
	assert.Equal(t, "question", activity.Details["input_type"])
	assert.Equal(t, true, activity.Details["has_question"])

	elapsed := snapshot.Signals[SignalTimeElapsed]
	assert.Equal(t, "evening", elapsed.Details["period"])
	assert.Equal(t, false, elapsed.Details["is_weekend"])

	conversation := snapshot.Signals[SignalConversationContext]
	assert.Equal(t, true, conversation.Details["is_active_conversation"])
	assert.Equal(t, true, conversation.Details["has_open_questions"])

	events := snapshot.Signals[SignalExternalEvents]
	assert.Equal(t, true, events.Details["has_high_priority"])
	assert.InDelta(t, 0.6, events.Score, 1e-9)
}

func TestSampleDisabledSignalExcluded(t *testing.T) {
	s := NewSampler()
	s.SetClock(fixedClock(testClock))
	c := newContext("s1", "alice")
	c.Notifications = []ExternalEvent{{Content: "x", HighPriority: true}}

	with := s.Sample(c)
	s.SetEnabled(SignalExternalEvents, false)
	without := s.Sample(c)

	assert.Less(t, without.PriorityScore, with.PriorityScore,
		"dropping a hot signal lowers the blend")
}

func TestSampleHistoryRing(t *testing.T) {
	s := NewSampler()
	s.SetClock(fixedClock(testClock))
	c := newContext("s1", "alice")

	for range 60 {
		s.Sample(c)
	}
	assert.Len(t, s.History(), snapshotRing)
}

func TestDayPeriod(t *testing.T) {
	for hour, want := range map[int]string{6: "morning", 13: "afternoon", 19: "evening", 23: "night", 3: "night"} {
		period, _ := dayPeriod(hour)
		assert.Equal(t, want, period, "hour %d", hour)
	}
}
