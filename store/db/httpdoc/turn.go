package httpdoc

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateTurn(ctx context.Context, create *store.Turn) (*store.Turn, error) {
	record, err := turnRecord(create)
	if err != nil {
		return nil, err
	}
	params := newParamSet()
	stmt := "CREATE turn CONTENT " + params.add(record)
	if _, err := d.query(ctx, stmt, params.values); err != nil {
		return nil, errors.Wrap(err, "failed to create turn")
	}
	return create, nil
}

func (d *DB) ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	where, params := []string{}, newParamSet()

	if find.ID != nil {
		where = append(where, "id = "+params.add(*find.ID))
	}
	if find.SessionID != nil {
		where = append(where, "session_id = "+params.add(*find.SessionID))
	}
	if find.Role != nil {
		where = append(where, "role = "+params.add(string(*find.Role)))
	}
	if find.SenderID != nil {
		where = append(where, "metadata.sender_id = "+params.add(*find.SenderID))
	}
	if find.HumanChat != nil {
		where = append(where, "metadata.human_chat = "+params.add(*find.HumanChat))
	}

	if find.BeforeID != nil {
		before, err := d.findTurnByID(ctx, *find.BeforeID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve before cursor")
		}
		// An unresolvable cursor yields an empty window, not an error.
		if before == nil {
			return []*store.Turn{}, nil
		}
		ts := params.add(before.CreatedTs)
		where = append(where, "(created_ts < "+ts+
			" OR (created_ts = "+ts+" AND id < "+params.add(before.ID)+"))")
	}

	stmt := "SELECT * FROM turn"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_ts DESC, id DESC"
	if find.Limit != nil {
		stmt += " LIMIT " + params.add(*find.Limit)
	}

	records, err := d.query(ctx, stmt, params.values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list turns")
	}
	list := make([]*store.Turn, 0, len(records))
	for _, record := range records {
		turn, err := turnFromRecord(record)
		if err != nil {
			return nil, err
		}
		list = append(list, turn)
	}
	return list, nil
}

func (d *DB) findTurnByID(ctx context.Context, id string) (*store.Turn, error) {
	params := newParamSet()
	stmt := "SELECT * FROM turn WHERE id = " + params.add(id) + " LIMIT 1"
	records, err := d.query(ctx, stmt, params.values)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return turnFromRecord(records[0])
}

func (d *DB) UpdateTurn(ctx context.Context, update *store.UpdateTurn) (*store.Turn, error) {
	turn, err := d.findTurnByID(ctx, update.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load turn for update")
	}
	if turn == nil {
		return nil, nil
	}

	turn.ApplyUpdate(update)
	record, err := turnRecord(turn)
	if err != nil {
		return nil, err
	}

	params := newParamSet()
	stmt := "UPDATE turn CONTENT " + params.add(record) + " WHERE id = " + params.add(turn.ID)
	if _, err := d.query(ctx, stmt, params.values); err != nil {
		return nil, errors.Wrap(err, "failed to update turn")
	}
	return turn, nil
}

func turnRecord(turn *store.Turn) (map[string]any, error) {
	var metadata map[string]any
	if err := remarshal(turn.Metadata, &metadata); err != nil {
		return nil, errors.Wrap(err, "failed to encode turn metadata")
	}
	return map[string]any{
		"id":         turn.ID,
		"session_id": turn.SessionID,
		"role":       string(turn.Role),
		"content":    turn.Content,
		"created_ts": turn.CreatedTs,
		"metadata":   metadata,
	}, nil
}

func turnFromRecord(record map[string]any) (*store.Turn, error) {
	turn := &store.Turn{
		ID:        getString(record, "id"),
		SessionID: getString(record, "session_id"),
		Role:      store.Role(getString(record, "role")),
		Content:   getString(record, "content"),
		CreatedTs: getInt64(record, "created_ts"),
	}
	if metadata := getMap(record, "metadata"); metadata != nil {
		if err := remarshal(metadata, &turn.Metadata); err != nil {
			return nil, errors.Wrap(err, "malformed turn metadata")
		}
	}
	return turn, nil
}
