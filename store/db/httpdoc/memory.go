package httpdoc

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// The document store keeps no vector index; Embedding is stored verbatim and
// retrieval falls back to substring search like the sqlite driver.

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	params := newParamSet()
	stmt := "CREATE memory CONTENT " + params.add(memoryRecord(create))
	if _, err := d.query(ctx, stmt, params.values); err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}
	return create, nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, params := []string{}, newParamSet()

	if find.ID != nil {
		where = append(where, "id = "+params.add(*find.ID))
	}
	if find.UserID != nil {
		where = append(where, "user_id = "+params.add(*find.UserID))
	}
	if find.Query != nil && *find.Query != "" {
		q := params.add(*find.Query)
		where = append(where, "(content CONTAINS "+q+" OR summary CONTAINS "+q+")")
	}

	stmt := "SELECT * FROM memory"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_ts DESC, id DESC"
	if find.Limit > 0 {
		stmt += " LIMIT " + params.add(find.Limit)
	}

	records, err := d.query(ctx, stmt, params.values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	list := make([]*store.Memory, 0, len(records))
	for _, record := range records {
		list = append(list, memoryFromRecord(record))
	}
	return list, nil
}

func memoryRecord(memory *store.Memory) map[string]any {
	record := map[string]any{
		"id":         memory.ID,
		"user_id":    memory.UserID,
		"content":    memory.Content,
		"summary":    memory.Summary,
		"importance": memory.Importance,
		"created_ts": memory.CreatedTs,
	}
	if len(memory.Embedding) > 0 {
		record["embedding"] = memory.Embedding
	}
	return record
}

func memoryFromRecord(record map[string]any) *store.Memory {
	memory := &store.Memory{
		ID:         getString(record, "id"),
		UserID:     getString(record, "user_id"),
		Content:    getString(record, "content"),
		Summary:    getString(record, "summary"),
		Importance: float32(getFloat64(record, "importance")),
		CreatedTs:  getInt64(record, "created_ts"),
	}
	if raw, ok := record["embedding"].([]any); ok {
		memory.Embedding = make([]float32, 0, len(raw))
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				memory.Embedding = append(memory.Embedding, float32(f))
			}
		}
	}
	return memory
}
