package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateTurn(ctx context.Context, create *store.Turn) (*store.Turn, error) {
	metadata, err := json.Marshal(create.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal turn metadata")
	}

	stmt := `
		INSERT INTO turn (id, session_id, role, content, created_ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.SessionID,
		string(create.Role),
		create.Content,
		create.CreatedTs,
		string(metadata),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create turn")
	}
	return create, nil
}

func (d *DB) ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = ?"), append(args, *find.SessionID)
	}
	if find.Role != nil {
		where, args = append(where, "role = ?"), append(args, string(*find.Role))
	}
	if find.SenderID != nil {
		where, args = append(where, "json_extract(metadata, '$.sender_id') = ?"), append(args, *find.SenderID)
	}
	if find.HumanChat != nil {
		where, args = append(where, "COALESCE(json_extract(metadata, '$.human_chat'), 0) = ?"), append(args, *find.HumanChat)
	}

	if find.BeforeID != nil {
		var beforeTs int64
		var beforeID string
		err := d.db.QueryRowContext(ctx, `SELECT created_ts, id FROM turn WHERE id = ?`, *find.BeforeID).
			Scan(&beforeTs, &beforeID)
		if err != nil {
			// An unresolvable cursor yields an empty window, not an error.
			if errors.Is(err, sql.ErrNoRows) {
				return []*store.Turn{}, nil
			}
			return nil, errors.Wrap(err, "failed to resolve before cursor")
		}
		where = append(where, "(created_ts < ? OR (created_ts = ? AND id < ?))")
		args = append(args, beforeTs, beforeTs, beforeID)
	}

	query := `
		SELECT id, session_id, role, content, created_ts, metadata
		FROM turn
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC
	`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list turns")
	}
	defer rows.Close()

	list := []*store.Turn{}
	for rows.Next() {
		turn, err := scanTurnRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan turn")
		}
		list = append(list, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateTurn(ctx context.Context, update *store.UpdateTurn) (*store.Turn, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, session_id, role, content, created_ts, metadata
		FROM turn
		WHERE id = ?
	`, update.ID)
	turn, err := scanTurnRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load turn for update")
	}

	turn.ApplyUpdate(update)
	metadata, err := json.Marshal(turn.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal turn metadata")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE turn SET metadata = ? WHERE id = ?`,
		string(metadata), turn.ID); err != nil {
		return nil, errors.Wrap(err, "failed to update turn")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit turn update")
	}
	return turn, nil
}

func scanTurnRow(row rowScanner) (*store.Turn, error) {
	var turn store.Turn
	var role string
	var metadata string
	if err := row.Scan(
		&turn.ID,
		&turn.SessionID,
		&role,
		&turn.Content,
		&turn.CreatedTs,
		&metadata,
	); err != nil {
		return nil, err
	}
	turn.Role = store.Role(role)
	if err := json.Unmarshal([]byte(metadata), &turn.Metadata); err != nil {
		return nil, errors.Wrap(err, "malformed turn metadata")
	}
	return &turn, nil
}
