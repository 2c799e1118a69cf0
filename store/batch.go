package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultBatchSize bounds how many ids one parallel storage request carries.
const defaultBatchSize = 50

// QueryTimingHook receives the elapsed time of a named query. The metrics
// package registers a prometheus histogram here; tests register a recorder.
type QueryTimingHook func(name string, elapsed time.Duration)

var (
	timingMu   sync.RWMutex
	timingHook QueryTimingHook
)

// SetQueryTimingHook installs the global timing observer.
func SetQueryTimingHook(hook QueryTimingHook) {
	timingMu.Lock()
	timingHook = hook
	timingMu.Unlock()
}

// MeasureQuery records the elapsed time of fn under the given name.
func MeasureQuery[V any](name string, fn func() (V, error)) (V, error) {
	start := time.Now()
	v, err := fn()
	timingMu.RLock()
	hook := timingHook
	timingMu.RUnlock()
	if hook != nil {
		hook(name, time.Since(start))
	}
	return v, err
}

func (s *Store) batchSize() int {
	if s.profile != nil && s.profile.BatchSize > 0 {
		return s.profile.BatchSize
	}
	return defaultBatchSize
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// BatchGetSessions collapses N session lookups into parallel requests of at
// most BatchSize ids each. Missing ids are absent from the result map.
func (s *Store) BatchGetSessions(ctx context.Context, ids []string) (map[string]*Session, error) {
	out := make(map[string]*Session, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, chunk := range chunkIDs(dedupeIDs(ids), s.batchSize()) {
		g.Go(func() error {
			for _, id := range chunk {
				session, err := s.GetSession(ctx, id)
				if err != nil {
					return err
				}
				if session == nil {
					continue
				}
				mu.Lock()
				out[id] = session
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchGetTurns is the turn-side bulk fan-in.
func (s *Store) BatchGetTurns(ctx context.Context, ids []string) (map[string]*Turn, error) {
	out := make(map[string]*Turn, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, chunk := range chunkIDs(dedupeIDs(ids), s.batchSize()) {
		g.Go(func() error {
			for _, id := range chunk {
				turn, err := s.GetTurn(ctx, id)
				if err != nil {
					return err
				}
				if turn == nil {
					continue
				}
				mu.Lock()
				out[id] = turn
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchUpdateTurns applies patches in parallel chunks. The result map holds
// the turns that existed and were updated.
func (s *Store) BatchUpdateTurns(ctx context.Context, updates []*UpdateTurn) (map[string]*Turn, error) {
	out := make(map[string]*Turn, len(updates))
	var mu sync.Mutex

	size := s.batchSize()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(updates); start += size {
		end := min(start+size, len(updates))
		chunk := updates[start:end]
		g.Go(func() error {
			for _, update := range chunk {
				turn, err := s.UpdateTurn(ctx, update)
				if err != nil {
					return err
				}
				if turn == nil {
					continue
				}
				mu.Lock()
				out[turn.ID] = turn
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListHumanMessages returns the human-chat history of a session,
// newest-first, honoring the exclusive before-id cursor.
func (s *Store) ListHumanMessages(ctx context.Context, sessionID string, limit int, beforeID string) ([]*Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	humanChat := true
	find := &FindTurn{
		SessionID: &sessionID,
		HumanChat: &humanChat,
		Limit:     &limit,
	}
	if beforeID != "" {
		find.BeforeID = &beforeID
	}
	return MeasureQuery("list_human_messages", func() ([]*Turn, error) {
		return s.currentDriver().ListTurns(ctx, find)
	})
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
