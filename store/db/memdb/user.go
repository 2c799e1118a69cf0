package memdb

import (
	"context"
	"sort"
	"time"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) UpsertUser(_ context.Context, upsert *store.User) (*store.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.users[upsert.ID]; ok {
		existing.Name = upsert.Name
		existing.Preferences = upsert.Preferences
		existing.UpdatedTs = upsert.UpdatedTs
		// InteractionCount survives upserts; it only moves through
		// IncrementUserInteraction.
		return copyUser(existing), nil
	}

	d.users[upsert.ID] = copyUser(upsert)
	return copyUser(upsert), nil
}

func (d *DB) ListUsers(_ context.Context, find *store.FindUser) ([]*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matched := make([]*store.User, 0)
	for _, user := range d.users {
		if find.ID != nil && user.ID != *find.ID {
			continue
		}
		if find.Name != nil && user.Name != *find.Name {
			continue
		}
		matched = append(matched, copyUser(user))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func (d *DB) UpdateUser(_ context.Context, update *store.UpdateUser) (*store.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[update.ID]
	if !ok {
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
	return copyUser(user), nil
}

func (d *DB) IncrementUserInteraction(_ context.Context, id string, delta int64) (int64, error) {
	if delta < 0 {
		delta = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		now := time.Now().UnixMilli()
		user = &store.User{ID: id, CreatedTs: now, UpdatedTs: now}
		d.users[id] = user
	}
	user.InteractionCount += delta
	return user.InteractionCount, nil
}
