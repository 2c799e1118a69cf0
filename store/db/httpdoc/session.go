package httpdoc

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	// The store has no unique constraints, so the idempotency check runs
	// ahead of the write. A duplicate racing in between produces an extra
	// row that list ordering hides; callers retrying with a nonce get the
	// same logical session either way.
	if create.Nonce != "" {
		existing, err := d.findSessionByNonce(ctx, create.Nonce)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	record, err := sessionRecord(create)
	if err != nil {
		return nil, err
	}
	params := newParamSet()
	stmt := "CREATE session CONTENT " + params.add(record)
	records, err := d.query(ctx, stmt, params.values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	if len(records) > 0 {
		return sessionFromRecord(records[0])
	}
	return create, nil
}

func (d *DB) findSessionByNonce(ctx context.Context, nonce string) (*store.Session, error) {
	params := newParamSet()
	stmt := "SELECT * FROM session WHERE nonce = " + params.add(nonce) + " LIMIT 1"
	records, err := d.query(ctx, stmt, params.values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find session by nonce")
	}
	if len(records) == 0 {
		return nil, nil
	}
	return sessionFromRecord(records[0])
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, params := []string{}, newParamSet()

	if find.ID != nil {
		where = append(where, "id = "+params.add(*find.ID))
	}
	if find.UserID != nil {
		where = append(where, "user_id = "+params.add(*find.UserID))
	}
	if find.Participant != nil {
		where = append(where, "metadata.participants CONTAINS "+params.add(*find.Participant))
	}
	if find.DialogueType != nil {
		where = append(where, "metadata.dialogue_type = "+params.add(string(*find.DialogueType)))
	}
	if find.Status != nil {
		where = append(where, "metadata.status = "+params.add(string(*find.Status)))
	}
	if find.Filter != nil && *find.Filter != "" {
		conds, err := store.CompileSessionFilter(*find.Filter)
		if err != nil {
			return nil, err
		}
		for _, cond := range conds {
			if cond.Field != "" {
				where = append(where, cond.Field+" = "+params.add(cond.Value))
			} else {
				where = append(where, "metadata."+cond.MetadataKey+" = "+params.add(cond.Value))
			}
		}
	}

	stmt := "SELECT * FROM session"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY updated_ts DESC, id DESC"
	if find.Limit != nil {
		stmt += " LIMIT " + params.add(*find.Limit)
		if find.Offset != nil {
			stmt += " START " + params.add(*find.Offset)
		}
	}

	records, err := d.query(ctx, stmt, params.values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	list := make([]*store.Session, 0, len(records))
	for _, record := range records {
		session, err := sessionFromRecord(record)
		if err != nil {
			return nil, err
		}
		list = append(list, session)
	}
	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	sessions, err := d.ListSessions(ctx, &store.FindSession{ID: &update.ID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session for update")
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	session := sessions[0]
	session.ApplyUpdate(update)
	record, err := sessionRecord(session)
	if err != nil {
		return nil, err
	}

	params := newParamSet()
	stmt := "UPDATE session CONTENT " + params.add(record) + " WHERE id = " + params.add(session.ID)
	if _, err := d.query(ctx, stmt, params.values); err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}
	return session, nil
}

func sessionRecord(session *store.Session) (map[string]any, error) {
	var metadata map[string]any
	if err := remarshal(session.Metadata, &metadata); err != nil {
		return nil, errors.Wrap(err, "failed to encode session metadata")
	}
	return map[string]any{
		"id":               session.ID,
		"user_id":          session.UserID,
		"title":            session.Title,
		"nonce":            session.Nonce,
		"created_ts":       session.CreatedTs,
		"updated_ts":       session.UpdatedTs,
		"last_activity_ts": session.LastActivityTs,
		"metadata":         metadata,
	}, nil
}

func sessionFromRecord(record map[string]any) (*store.Session, error) {
	session := &store.Session{
		ID:             getString(record, "id"),
		UserID:         getString(record, "user_id"),
		Title:          getString(record, "title"),
		Nonce:          getString(record, "nonce"),
		CreatedTs:      getInt64(record, "created_ts"),
		UpdatedTs:      getInt64(record, "updated_ts"),
		LastActivityTs: getInt64(record, "last_activity_ts"),
	}
	if metadata := getMap(record, "metadata"); metadata != nil {
		if err := remarshal(metadata, &session.Metadata); err != nil {
			return nil, errors.Wrap(err, "malformed session metadata")
		}
	}
	return session, nil
}
