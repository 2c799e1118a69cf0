package httpdoc

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) UpsertUser(ctx context.Context, upsert *store.User) (*store.User, error) {
	existing, err := d.findUserByID(ctx, upsert.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user")
	}

	user := *upsert
	if existing != nil {
		// interaction_count only moves through IncrementUserInteraction.
		user.InteractionCount = existing.InteractionCount
		user.CreatedTs = existing.CreatedTs
	}

	record, err := userRecord(&user)
	if err != nil {
		return nil, err
	}
	params := newParamSet()
	var stmt string
	if existing == nil {
		stmt = "CREATE users CONTENT " + params.add(record)
	} else {
		stmt = "UPDATE users CONTENT " + params.add(record) + " WHERE id = " + params.add(user.ID)
	}
	if _, err := d.query(ctx, stmt, params.values); err != nil {
		return nil, errors.Wrap(err, "failed to upsert user")
	}
	return &user, nil
}

func (d *DB) ListUsers(ctx context.Context, find *store.FindUser) ([]*store.User, error) {
	where, params := []string{}, newParamSet()

	if find.ID != nil {
		where = append(where, "id = "+params.add(*find.ID))
	}
	if find.Name != nil {
		where = append(where, "name = "+params.add(*find.Name))
	}

	stmt := "SELECT * FROM users"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id ASC"

	records, err := d.query(ctx, stmt, params.values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	list := make([]*store.User, 0, len(records))
	for _, record := range records {
		user, err := userFromRecord(record)
		if err != nil {
			return nil, err
		}
		list = append(list, user)
	}
	return list, nil
}

func (d *DB) findUserByID(ctx context.Context, id string) (*store.User, error) {
	users, err := d.ListUsers(ctx, &store.FindUser{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}

func (d *DB) UpdateUser(ctx context.Context, update *store.UpdateUser) (*store.User, error) {
	user, err := d.findUserByID(ctx, update.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load user for update")
	}
	if user == nil {
		return nil, nil
	}

	if update.Name != nil {
		user.Name = *update.Name
	}
	if update.Preferences != nil {
		user.Preferences = *update.Preferences
	}
	if update.UpdatedTs != nil {
		user.UpdatedTs = *update.UpdatedTs
	}

	record, err := userRecord(user)
	if err != nil {
		return nil, err
	}
	params := newParamSet()
	stmt := "UPDATE users CONTENT " + params.add(record) + " WHERE id = " + params.add(user.ID)
	if _, err := d.query(ctx, stmt, params.values); err != nil {
		return nil, errors.Wrap(err, "failed to update user")
	}
	return user, nil
}

func (d *DB) IncrementUserInteraction(ctx context.Context, id string, delta int64) (int64, error) {
	if delta < 0 {
		delta = 0
	}

	now := time.Now().UnixMilli()
	user, err := d.findUserByID(ctx, id)
	if err != nil {
		return 0, errors.Wrap(err, "failed to increment interaction count")
	}
	if user == nil {
		user = &store.User{ID: id, CreatedTs: now}
	}
	user.InteractionCount += delta
	user.UpdatedTs = now

	record, err := userRecord(user)
	if err != nil {
		return 0, err
	}
	params := newParamSet()
	stmt := "UPSERT users CONTENT " + params.add(record) + " WHERE id = " + params.add(id)
	if _, err := d.query(ctx, stmt, params.values); err != nil {
		return 0, errors.Wrap(err, "failed to increment interaction count")
	}
	return user.InteractionCount, nil
}

func userRecord(user *store.User) (map[string]any, error) {
	var preferences map[string]any
	if err := remarshal(user.Preferences, &preferences); err != nil {
		return nil, errors.Wrap(err, "failed to encode user preferences")
	}
	return map[string]any{
		"id":                user.ID,
		"name":              user.Name,
		"interaction_count": user.InteractionCount,
		"preferences":       preferences,
		"created_ts":        user.CreatedTs,
		"updated_ts":        user.UpdatedTs,
	}, nil
}

func userFromRecord(record map[string]any) (*store.User, error) {
	user := &store.User{
		ID:               getString(record, "id"),
		Name:             getString(record, "name"),
		InteractionCount: getInt64(record, "interaction_count"),
		CreatedTs:        getInt64(record, "created_ts"),
		UpdatedTs:        getInt64(record, "updated_ts"),
	}
	if preferences := getMap(record, "preferences"); preferences != nil {
		if err := remarshal(preferences, &user.Preferences); err != nil {
			return nil, errors.Wrap(err, "malformed user preferences")
		}
	}
	return user, nil
}
