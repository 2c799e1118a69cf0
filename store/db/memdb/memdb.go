// Package memdb implements the store driver on plain in-process maps.
//
// It backs two things: unit tests, and the degraded fallback the store
// switches to when the configured backend is unreachable at startup. Data
// lives only for the lifetime of the process.
package memdb

import (
	"context"
	"sync"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

type DB struct {
	profile *profile.Profile

	mu          sync.RWMutex
	sessions    map[string]*store.Session
	turns       map[string]*store.Turn
	users       map[string]*store.User
	expressions map[string]*store.Expression
	memories    map[string]*store.Memory

	// sessionTurns preserves insertion order per session so equal
	// timestamps still list deterministically.
	sessionTurns map[string][]string
}

// NewDB creates an empty in-memory driver.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	return &DB{
		profile:      profile,
		sessions:     make(map[string]*store.Session),
		turns:        make(map[string]*store.Turn),
		users:        make(map[string]*store.User),
		expressions:  make(map[string]*store.Expression),
		memories:     make(map[string]*store.Memory),
		sessionTurns: make(map[string][]string),
	}, nil
}

func (d *DB) GetDB() any { return nil }

func (d *DB) Close() error { return nil }

func (d *DB) Ping(context.Context) error { return nil }

func (d *DB) Migrate(context.Context) error { return nil }

func copySession(s *store.Session) *store.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Metadata.Participants = append([]string(nil), s.Metadata.Participants...)
	out.Metadata.Extra = copyAnyMap(s.Metadata.Extra)
	return &out
}

func copyTurn(t *store.Turn) *store.Turn {
	if t == nil {
		return nil
	}
	out := *t
	if t.Metadata.ReadAt != nil {
		out.Metadata.ReadAt = make(map[string]int64, len(t.Metadata.ReadAt))
		for k, v := range t.Metadata.ReadAt {
			out.Metadata.ReadAt[k] = v
		}
	}
	out.Metadata.ToolsUsed = append([]string(nil), t.Metadata.ToolsUsed...)
	out.Metadata.Extra = copyAnyMap(t.Metadata.Extra)
	return &out
}

func copyUser(u *store.User) *store.User {
	if u == nil {
		return nil
	}
	out := *u
	out.Preferences.Topics = append([]string(nil), u.Preferences.Topics...)
	if u.Preferences.UseEmoji != nil {
		v := *u.Preferences.UseEmoji
		out.Preferences.UseEmoji = &v
	}
	return &out
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
