// Package schedule runs cron-backed reminders that surface as external
// events in the frequency pipeline.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
)

// ReminderSink receives fired reminders. The frequency integrator
// implements it; the reminder then shows up in the sampler's
// external_events signal.
type ReminderSink interface {
	AddReminder(sessionID, content string, highPriority bool)
}

// Entry is one registered reminder.
type Entry struct {
	ID           cron.EntryID `json:"id"`
	UserID       string       `json:"user_id"`
	SessionID    string       `json:"session_id"`
	Spec         string       `json:"spec"`
	Text         string       `json:"text"`
	HighPriority bool         `json:"high_priority"`
}

// Scheduler owns the cron runner and the entry table.
type Scheduler struct {
	sink ReminderSink
	cron *cron.Cron

	mu      sync.Mutex
	entries map[cron.EntryID]*Entry
}

// NewScheduler creates a stopped scheduler feeding sink.
func NewScheduler(sink ReminderSink) *Scheduler {
	return &Scheduler{
		sink:    sink,
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		entries: make(map[cron.EntryID]*Entry),
	}
}

// Start launches the cron runner.
func (s *Scheduler) Start() { s.cron.Start() }

// Close stops the runner and waits for in-flight jobs to finish.
func (s *Scheduler) Close() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Schedule registers a reminder firing on the cron spec ("@every 10m",
// "0 9 * * *", ...). Every fire pushes the reminder into the sink.
func (s *Scheduler) Schedule(userID, sessionID, spec, text string, highPriority bool) (*Entry, error) {
	if sessionID == "" || text == "" {
		return nil, fmt.Errorf("session id and text are required: %w", errkind.ErrInvalidInput)
	}

	entry := &Entry{
		UserID:       userID,
		SessionID:    sessionID,
		Spec:         spec,
		Text:         text,
		HighPriority: highPriority,
	}
	id, err := s.cron.AddFunc(spec, func() {
		slog.Debug("reminder fired", "session_id", sessionID, "text", text)
		s.sink.AddReminder(sessionID, text, highPriority)
	})
	if err != nil {
		return nil, fmt.Errorf("bad cron spec %q: %w", spec, errkind.ErrInvalidInput)
	}
	entry.ID = id

	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()
	return entry, nil
}

// Cancel removes a reminder. Unknown ids are a no-op.
func (s *Scheduler) Cancel(id cron.EntryID) {
	s.cron.Remove(id)
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Entries lists the registered reminders for a user; an empty userID
// lists everything.
func (s *Scheduler) Entries(userID string) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if userID == "" || entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out
}

var _ ReminderSink = (sinkFunc)(nil)

// sinkFunc adapts a function to ReminderSink; handy in tests.
type sinkFunc func(sessionID, content string, highPriority bool)

func (f sinkFunc) AddReminder(sessionID, content string, highPriority bool) {
	f(sessionID, content, highPriority)
}

// SinkFunc exposes the adapter.
func SinkFunc(f func(sessionID, content string, highPriority bool)) ReminderSink {
	return sinkFunc(f)
}
