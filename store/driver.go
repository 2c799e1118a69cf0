package store

import (
	"context"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() any
	Close() error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	CreateSession(ctx context.Context, create *Session) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)

	CreateTurn(ctx context.Context, create *Turn) (*Turn, error)
	ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error)
	UpdateTurn(ctx context.Context, update *UpdateTurn) (*Turn, error)

	CreateExpression(ctx context.Context, create *Expression) (*Expression, error)
	ListExpressions(ctx context.Context, find *FindExpression) ([]*Expression, error)

	UpsertUser(ctx context.Context, upsert *User) (*User, error)
	ListUsers(ctx context.Context, find *FindUser) ([]*User, error)
	UpdateUser(ctx context.Context, update *UpdateUser) (*User, error)
	IncrementUserInteraction(ctx context.Context, id string, delta int64) (int64, error)

	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
}
