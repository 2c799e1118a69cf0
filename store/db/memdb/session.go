package memdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateSession(_ context.Context, create *store.Session) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if create.Nonce != "" {
		for _, existing := range d.sessions {
			if existing.Nonce == create.Nonce {
				return copySession(existing), nil
			}
		}
	}
	if _, ok := d.sessions[create.ID]; ok {
		return nil, errors.Errorf("session %s already exists", create.ID)
	}

	d.sessions[create.ID] = copySession(create)
	return copySession(create), nil
}

func (d *DB) ListSessions(_ context.Context, find *store.FindSession) ([]*store.Session, error) {
	var conds []store.FilterCond
	if find.Filter != nil {
		var err error
		conds, err = store.CompileSessionFilter(*find.Filter)
		if err != nil {
			return nil, err
		}
	}

	d.mu.RLock()
	matched := make([]*store.Session, 0)
	for _, session := range d.sessions {
		if matchSession(session, find, conds) {
			matched = append(matched, copySession(session))
		}
	}
	d.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedTs != matched[j].UpdatedTs {
			return matched[i].UpdatedTs > matched[j].UpdatedTs
		}
		return matched[i].ID > matched[j].ID
	})

	offset := 0
	if find.Offset != nil && *find.Offset > 0 {
		offset = *find.Offset
	}
	if offset >= len(matched) {
		return []*store.Session{}, nil
	}
	matched = matched[offset:]
	if find.Limit != nil && *find.Limit >= 0 && *find.Limit < len(matched) {
		matched = matched[:*find.Limit]
	}
	return matched, nil
}

func matchSession(session *store.Session, find *store.FindSession, conds []store.FilterCond) bool {
	if find.ID != nil && session.ID != *find.ID {
		return false
	}
	if find.UserID != nil && session.UserID != *find.UserID {
		return false
	}
	if find.Participant != nil && !session.Metadata.HasParticipant(*find.Participant) {
		return false
	}
	if find.DialogueType != nil && session.Metadata.DialogueType != *find.DialogueType {
		return false
	}
	if find.Status != nil && session.Metadata.Status != *find.Status {
		return false
	}
	for _, cond := range conds {
		if !cond.Match(session) {
			return false
		}
	}
	return true
}

func (d *DB) UpdateSession(_ context.Context, update *store.UpdateSession) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, ok := d.sessions[update.ID]
	if !ok {
		return nil, nil
	}
	session.ApplyUpdate(update)
	return copySession(session), nil
}
