package memdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateTurn(_ context.Context, create *store.Turn) (*store.Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.turns[create.ID]; ok {
		return nil, errors.Errorf("turn %s already exists", create.ID)
	}

	d.turns[create.ID] = copyTurn(create)
	d.sessionTurns[create.SessionID] = append(d.sessionTurns[create.SessionID], create.ID)
	return copyTurn(create), nil
}

func (d *DB) ListTurns(_ context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	d.mu.RLock()
	matched := make([]*store.Turn, 0)
	if find.ID != nil {
		if turn, ok := d.turns[*find.ID]; ok && matchTurn(turn, find) {
			matched = append(matched, copyTurn(turn))
		}
	} else if find.SessionID != nil {
		for _, id := range d.sessionTurns[*find.SessionID] {
			if turn := d.turns[id]; turn != nil && matchTurn(turn, find) {
				matched = append(matched, copyTurn(turn))
			}
		}
	} else {
		for _, turn := range d.turns {
			if matchTurn(turn, find) {
				matched = append(matched, copyTurn(turn))
			}
		}
	}

	var before *store.Turn
	if find.BeforeID != nil {
		before = d.turns[*find.BeforeID]
		if before == nil {
			d.mu.RUnlock()
			return []*store.Turn{}, nil
		}
	}
	d.mu.RUnlock()

	// Newest first; id breaks timestamp ties deterministically.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedTs != matched[j].CreatedTs {
			return matched[i].CreatedTs > matched[j].CreatedTs
		}
		return matched[i].ID > matched[j].ID
	})

	if before != nil {
		cut := len(matched)
		for i, turn := range matched {
			if turn.CreatedTs < before.CreatedTs ||
				(turn.CreatedTs == before.CreatedTs && turn.ID < before.ID) {
				cut = i
				break
			}
		}
		matched = matched[cut:]
	}

	if find.Limit != nil && *find.Limit >= 0 && *find.Limit < len(matched) {
		matched = matched[:*find.Limit]
	}
	return matched, nil
}

func matchTurn(turn *store.Turn, find *store.FindTurn) bool {
	if find.SessionID != nil && turn.SessionID != *find.SessionID {
		return false
	}
	if find.Role != nil && turn.Role != *find.Role {
		return false
	}
	if find.SenderID != nil && turn.Metadata.SenderID != *find.SenderID {
		return false
	}
	if find.HumanChat != nil && turn.Metadata.HumanChat != *find.HumanChat {
		return false
	}
	return true
}

func (d *DB) UpdateTurn(_ context.Context, update *store.UpdateTurn) (*store.Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	turn, ok := d.turns[update.ID]
	if !ok {
		return nil, nil
	}
	turn.ApplyUpdate(update)
	return copyTurn(turn), nil
}
