package store

import (
	"context"
)

// Result pairs a value with the error that produced it, for the async
// variants below.
type Result[V any] struct {
	Value V
	Err   error
}

// The Go* variants run the corresponding blocking call on its own goroutine
// and deliver the outcome on a buffered channel. They exist for
// fire-and-forget callers at process boundaries; the context-based blocking
// methods remain the canonical API. The channel always receives exactly one
// result and is then closed.

func goCall[V any](fn func() (V, error)) <-chan Result[V] {
	out := make(chan Result[V], 1)
	go func() {
		defer close(out)
		v, err := fn()
		out <- Result[V]{Value: v, Err: err}
	}()
	return out
}

func (s *Store) GoCreateSession(ctx context.Context, create *Session) <-chan Result[*Session] {
	return goCall(func() (*Session, error) { return s.CreateSession(ctx, create) })
}

func (s *Store) GoGetSession(ctx context.Context, id string) <-chan Result[*Session] {
	return goCall(func() (*Session, error) { return s.GetSession(ctx, id) })
}

func (s *Store) GoUpdateSession(ctx context.Context, update *UpdateSession) <-chan Result[*Session] {
	return goCall(func() (*Session, error) { return s.UpdateSession(ctx, update) })
}

func (s *Store) GoListSessions(ctx context.Context, find *FindSession) <-chan Result[[]*Session] {
	return goCall(func() ([]*Session, error) { return s.ListSessions(ctx, find) })
}

func (s *Store) GoCreateTurn(ctx context.Context, create *Turn) <-chan Result[*Turn] {
	return goCall(func() (*Turn, error) { return s.CreateTurn(ctx, create) })
}

func (s *Store) GoGetTurn(ctx context.Context, id string) <-chan Result[*Turn] {
	return goCall(func() (*Turn, error) { return s.GetTurn(ctx, id) })
}

func (s *Store) GoUpdateTurn(ctx context.Context, update *UpdateTurn) <-chan Result[*Turn] {
	return goCall(func() (*Turn, error) { return s.UpdateTurn(ctx, update) })
}

func (s *Store) GoListTurns(ctx context.Context, find *FindTurn) <-chan Result[[]*Turn] {
	return goCall(func() ([]*Turn, error) { return s.ListTurns(ctx, find) })
}
