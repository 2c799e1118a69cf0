package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) UpsertUser(ctx context.Context, upsert *store.User) (*store.User, error) {
	preferences, err := json.Marshal(upsert.Preferences)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal user preferences")
	}

	// interaction_count is deliberately absent from the update set; it only
	// moves through IncrementUserInteraction.
	stmt := `
		INSERT INTO users (id, name, interaction_count, preferences, created_ts, updated_ts)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			preferences = EXCLUDED.preferences,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, name, interaction_count, preferences, created_ts, updated_ts
	`
	row := d.db.QueryRowContext(ctx, stmt,
		upsert.ID,
		upsert.Name,
		upsert.InteractionCount,
		string(preferences),
		upsert.CreatedTs,
		upsert.UpdatedTs,
	)
	user, err := scanUserRow(row)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user")
	}
	return user, nil
}

func (d *DB) ListUsers(ctx context.Context, find *store.FindUser) ([]*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Name != nil {
		where, args = append(where, "name = "+placeholder(len(args)+1)), append(args, *find.Name)
	}

	query := `
		SELECT id, name, interaction_count, preferences, created_ts, updated_ts
		FROM users
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	list := []*store.User{}
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		list = append(list, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateUser(ctx context.Context, update *store.UpdateUser) (*store.User, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *update.Name)
	}
	if update.Preferences != nil {
		preferences, err := json.Marshal(*update.Preferences)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal user preferences")
		}
		set, args = append(set, "preferences = "+placeholder(len(args)+1)), append(args, string(preferences))
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		users, err := d.ListUsers(ctx, &store.FindUser{ID: &update.ID})
		if err != nil {
			return nil, err
		}
		if len(users) == 0 {
			return nil, nil
		}
		return users[0], nil
	}
	args = append(args, update.ID)

	stmt := `
		UPDATE users SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, name, interaction_count, preferences, created_ts, updated_ts
	`
	user, err := scanUserRow(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to update user")
	}
	return user, nil
}

func (d *DB) IncrementUserInteraction(ctx context.Context, id string, delta int64) (int64, error) {
	if delta < 0 {
		delta = 0
	}

	stmt := `
		INSERT INTO users (id, name, interaction_count, preferences, created_ts, updated_ts)
		VALUES ($1, '', $2, '{}', (EXTRACT(EPOCH FROM NOW()) * 1000)::bigint, (EXTRACT(EPOCH FROM NOW()) * 1000)::bigint)
		ON CONFLICT (id) DO UPDATE SET
			interaction_count = users.interaction_count + EXCLUDED.interaction_count,
			updated_ts = EXCLUDED.updated_ts
		RETURNING interaction_count
	`
	var count int64
	if err := d.db.QueryRowContext(ctx, stmt, id, delta).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to increment interaction count")
	}
	return count, nil
}

func scanUserRow(row rowScanner) (*store.User, error) {
	var user store.User
	var preferences []byte
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.InteractionCount,
		&preferences,
		&user.CreatedTs,
		&user.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(preferences, &user.Preferences); err != nil {
		return nil, errors.Wrap(err, "malformed user preferences")
	}
	return &user, nil
}
