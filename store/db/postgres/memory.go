package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	if len(create.Embedding) > 0 && d.vectorEnabled {
		stmt := `
			INSERT INTO memory (id, user_id, content, summary, importance, created_ts, embedding)
			VALUES (` + placeholders(7) + `)
		`
		if _, err := d.db.ExecContext(ctx, stmt,
			create.ID,
			create.UserID,
			create.Content,
			create.Summary,
			create.Importance,
			create.CreatedTs,
			pgvector.NewVector(create.Embedding),
		); err != nil {
			return nil, errors.Wrap(err, "failed to create memory with embedding")
		}
		return create, nil
	}

	stmt := `
		INSERT INTO memory (id, user_id, content, summary, importance, created_ts)
		VALUES (` + placeholders(6) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.Content,
		create.Summary,
		create.Importance,
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}
	return create, nil
}

// ListMemories orders by vector distance when an embedding is supplied and
// pgvector is available, otherwise by recency with optional text matching.
func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	useVector := len(find.Embedding) > 0 && d.vectorEnabled
	if useVector {
		where = append(where, "embedding IS NOT NULL")
	} else if find.Query != nil && *find.Query != "" {
		p1, p2 := placeholder(len(args)+1), placeholder(len(args)+2)
		where = append(where, "(content ILIKE "+p1+" OR summary ILIKE "+p2+")")
		pattern := "%" + *find.Query + "%"
		args = append(args, pattern, pattern)
	}

	orderBy := "created_ts DESC, id DESC"
	if useVector {
		orderBy = "embedding <=> " + placeholder(len(args)+1)
		args = append(args, pgvector.NewVector(find.Embedding))
	}

	query := `
		SELECT id, user_id, content, summary, importance, created_ts
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + orderBy
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	list := []*store.Memory{}
	for rows.Next() {
		var memory store.Memory
		if err := rows.Scan(
			&memory.ID,
			&memory.UserID,
			&memory.Content,
			&memory.Summary,
			&memory.Importance,
			&memory.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory")
		}
		list = append(list, &memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
