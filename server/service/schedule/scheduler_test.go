package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
)

type reminderRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *reminderRecorder) AddReminder(sessionID, content string, highPriority bool) {
	r.mu.Lock()
	r.fired = append(r.fired, sessionID+":"+content)
	r.mu.Unlock()
}

func (r *reminderRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func (r *reminderRecorder) first() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired[0]
}

func TestScheduleFires(t *testing.T) {
	rec := &reminderRecorder{}
	s := NewScheduler(rec)
	s.Start()
	defer s.Close()

	entry, err := s.Schedule("alice", "s1", "@every 100ms", "stretch break", true)
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)

	require.Eventually(t, func() bool { return rec.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "s1:stretch break", rec.first())
}

func TestScheduleValidation(t *testing.T) {
	s := NewScheduler(&reminderRecorder{})
	defer s.Close()

	_, err := s.Schedule("alice", "", "@every 1m", "x", false)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)

	_, err = s.Schedule("alice", "s1", "not a spec", "x", false)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)
}

func TestCancelAndEntries(t *testing.T) {
	s := NewScheduler(&reminderRecorder{})
	defer s.Close()

	a, err := s.Schedule("alice", "s1", "0 9 * * *", "morning", false)
	require.NoError(t, err)
	_, err = s.Schedule("bob", "s2", "0 9 * * *", "morning", false)
	require.NoError(t, err)

	assert.Len(t, s.Entries(""), 2)
	assert.Len(t, s.Entries("alice"), 1)

	s.Cancel(a.ID)
	assert.Empty(t, s.Entries("alice"))
	assert.Len(t, s.Entries(""), 1)
}
