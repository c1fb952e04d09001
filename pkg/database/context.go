package database

import (
	"context"
)

type contextKey string

const (
	// ScopeKey is the context key for the request's database scope.
	ScopeKey contextKey = "dbScope"
)

// GetScope retrieves the database scope from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetScope stores the database scope in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// ScopeProvider opens scoped contexts outside the HTTP middleware chain.
type ScopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) *ScopeProvider {
	return &ScopeProvider{db: db}
}

// WithScope returns a context carrying a scope for userID (empty for anonymous work).
// The cleanup function must be called when the scope is no longer needed.
func (p *ScopeProvider) WithScope(ctx context.Context, userID string) (context.Context, func(), error) {
	var scope *Scope
	var err error
	if userID == "" {
		scope, err = p.db.WithoutUser(ctx)
	} else {
		scope, err = p.db.WithUser(ctx, userID)
	}
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}
