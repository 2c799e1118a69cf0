package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	metadata, err := json.Marshal(create.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal session metadata")
	}

	args := []any{
		create.ID,
		create.UserID,
		create.Title,
		create.Nonce,
		create.CreatedTs,
		create.UpdatedTs,
		create.LastActivityTs,
		string(metadata),
	}
	stmt := `
		INSERT INTO session (id, user_id, title, nonce, created_ts, updated_ts, last_activity_ts, metadata)
		VALUES (` + placeholders(len(args)) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		if create.Nonce != "" {
			if existing, ferr := d.findSessionByNonce(ctx, create.Nonce); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, errors.Wrap(err, "failed to create session")
	}
	return create, nil
}

func (d *DB) findSessionByNonce(ctx context.Context, nonce string) (*store.Session, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, nonce, created_ts, updated_ts, last_activity_ts, metadata
		FROM session
		WHERE nonce = $1
	`, nonce)
	session, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find session by nonce")
	}
	return session, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Participant != nil {
		where = append(where, "metadata -> 'participants' @> to_jsonb("+placeholder(len(args)+1)+"::text)")
		args = append(args, *find.Participant)
	}
	if find.DialogueType != nil {
		where, args = append(where, "metadata ->> 'dialogue_type' = "+placeholder(len(args)+1)), append(args, string(*find.DialogueType))
	}
	if find.Status != nil {
		where, args = append(where, "metadata ->> 'status' = "+placeholder(len(args)+1)), append(args, string(*find.Status))
	}
	if find.Filter != nil && *find.Filter != "" {
		conds, err := store.CompileSessionFilter(*find.Filter)
		if err != nil {
			return nil, err
		}
		for _, cond := range conds {
			if cond.Field != "" {
				where, args = append(where, cond.Field+" = "+placeholder(len(args)+1)), append(args, cond.Value)
			} else {
				// ->> yields text, so compare against the JSON text rendering.
				where = append(where, "metadata ->> '"+cond.MetadataKey+"' = "+placeholder(len(args)+1))
				args = append(args, cond.ValueText())
			}
		}
	}

	query := `
		SELECT id, user_id, title, nonce, created_ts, updated_ts, last_activity_ts, metadata
		FROM session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC, id DESC
	`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	list := []*store.Session{}
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		list = append(list, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, title, nonce, created_ts, updated_ts, last_activity_ts, metadata
		FROM session
		WHERE id = $1
		FOR UPDATE
	`, update.ID)
	session, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load session for update")
	}

	session.ApplyUpdate(update)
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal session metadata")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE session SET title = $1, updated_ts = $2, last_activity_ts = $3, metadata = $4
		WHERE id = $5
	`, session.Title, session.UpdatedTs, session.LastActivityTs, string(metadata), session.ID); err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit session update")
	}
	return session, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (*store.Session, error) {
	var session store.Session
	var metadata []byte
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Title,
		&session.Nonce,
		&session.CreatedTs,
		&session.UpdatedTs,
		&session.LastActivityTs,
		&metadata,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
		return nil, errors.Wrap(err, "malformed session metadata")
	}
	return &session, nil
}
