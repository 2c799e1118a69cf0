package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateExpression(ctx context.Context, create *store.Expression) (*store.Expression, error) {
	stmt := `
		INSERT INTO expression (id, user_id, session_id, type, content, priority_score, relationship_stage, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.SessionID,
		string(create.Type),
		create.Content,
		create.PriorityScore,
		string(create.RelationshipStage),
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create expression")
	}
	return create, nil
}

func (d *DB) ListExpressions(ctx context.Context, find *store.FindExpression) ([]*store.Expression, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = ?"), append(args, *find.SessionID)
	}
	if find.Type != nil {
		where, args = append(where, "type = ?"), append(args, string(*find.Type))
	}

	query := `
		SELECT id, user_id, session_id, type, content, priority_score, relationship_stage, created_ts
		FROM expression
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC
	`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expressions")
	}
	defer rows.Close()

	list := []*store.Expression{}
	for rows.Next() {
		var expression store.Expression
		var exprType, stage string
		if err := rows.Scan(
			&expression.ID,
			&expression.UserID,
			&expression.SessionID,
			&exprType,
			&expression.Content,
			&expression.PriorityScore,
			&stage,
			&expression.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan expression")
		}
		expression.Type = store.ExpressionType(exprType)
		expression.RelationshipStage = store.RelationshipStage(stage)
		list = append(list, &expression)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
