package memdb

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateExpression(_ context.Context, create *store.Expression) (*store.Expression, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.expressions[create.ID]; ok {
		return nil, errors.Errorf("expression %s already exists", create.ID)
	}
	out := *create
	d.expressions[create.ID] = &out
	result := out
	return &result, nil
}

func (d *DB) ListExpressions(_ context.Context, find *store.FindExpression) ([]*store.Expression, error) {
	d.mu.RLock()
	matched := make([]*store.Expression, 0)
	for _, expr := range d.expressions {
		if find.UserID != nil && expr.UserID != *find.UserID {
			continue
		}
		if find.SessionID != nil && expr.SessionID != *find.SessionID {
			continue
		}
		if find.Type != nil && expr.Type != *find.Type {
			continue
		}
		out := *expr
		matched = append(matched, &out)
	}
	d.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedTs != matched[j].CreatedTs {
			return matched[i].CreatedTs > matched[j].CreatedTs
		}
		return matched[i].ID > matched[j].ID
	})
	if find.Limit != nil && *find.Limit >= 0 && *find.Limit < len(matched) {
		matched = matched[:*find.Limit]
	}
	return matched, nil
}

func (d *DB) CreateMemory(_ context.Context, create *store.Memory) (*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.memories[create.ID]; ok {
		return nil, errors.Errorf("memory %s already exists", create.ID)
	}
	out := *create
	out.Embedding = append([]float32(nil), create.Embedding...)
	d.memories[create.ID] = &out
	result := out
	return &result, nil
}

// ListMemories matches by substring only. Vector search needs the postgres
// backend; callers fall back to Query text when Embedding ordering is
// unavailable.
func (d *DB) ListMemories(_ context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	d.mu.RLock()
	matched := make([]*store.Memory, 0)
	for _, memory := range d.memories {
		if find.ID != nil && memory.ID != *find.ID {
			continue
		}
		if find.UserID != nil && memory.UserID != *find.UserID {
			continue
		}
		if find.Query != nil && *find.Query != "" {
			q := strings.ToLower(*find.Query)
			if !strings.Contains(strings.ToLower(memory.Content), q) &&
				!strings.Contains(strings.ToLower(memory.Summary), q) {
				continue
			}
		}
		out := *memory
		out.Embedding = append([]float32(nil), memory.Embedding...)
		matched = append(matched, &out)
	}
	d.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedTs != matched[j].CreatedTs {
			return matched[i].CreatedTs > matched[j].CreatedTs
		}
		return matched[i].ID > matched[j].ID
	})
	if find.Limit > 0 && find.Limit < len(matched) {
		matched = matched[:find.Limit]
	}
	return matched, nil
}
