package httpdoc

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (d *DB) CreateExpression(ctx context.Context, create *store.Expression) (*store.Expression, error) {
	params := newParamSet()
	stmt := "CREATE expression CONTENT " + params.add(expressionRecord(create))
	if _, err := d.query(ctx, stmt, params.values); err != nil {
		return nil, errors.Wrap(err, "failed to create expression")
	}
	return create, nil
}

func (d *DB) ListExpressions(ctx context.Context, find *store.FindExpression) ([]*store.Expression, error) {
	where, params := []string{}, newParamSet()

	if find.UserID != nil {
		where = append(where, "user_id = "+params.add(*find.UserID))
	}
	if find.SessionID != nil {
		where = append(where, "session_id = "+params.add(*find.SessionID))
	}
	if find.Type != nil {
		where = append(where, "type = "+params.add(string(*find.Type)))
	}

	stmt := "SELECT * FROM expression"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_ts DESC, id DESC"
	if find.Limit != nil {
		stmt += " LIMIT " + params.add(*find.Limit)
	}

	records, err := d.query(ctx, stmt, params.values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expressions")
	}
	list := make([]*store.Expression, 0, len(records))
	for _, record := range records {
		list = append(list, expressionFromRecord(record))
	}
	return list, nil
}

func expressionRecord(expr *store.Expression) map[string]any {
	return map[string]any{
		"id":                 expr.ID,
		"user_id":            expr.UserID,
		"session_id":         expr.SessionID,
		"type":               string(expr.Type),
		"content":            expr.Content,
		"priority_score":     expr.PriorityScore,
		"relationship_stage": string(expr.RelationshipStage),
		"created_ts":         expr.CreatedTs,
	}
}

func expressionFromRecord(record map[string]any) *store.Expression {
	return &store.Expression{
		ID:                getString(record, "id"),
		UserID:            getString(record, "user_id"),
		SessionID:         getString(record, "session_id"),
		Type:              store.ExpressionType(getString(record, "type")),
		Content:           getString(record, "content"),
		PriorityScore:     getFloat64(record, "priority_score"),
		RelationshipStage: store.RelationshipStage(getString(record, "relationship_stage")),
		CreatedTs:         getInt64(record, "created_ts"),
	}
}
