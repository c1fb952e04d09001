package middleware

import (
	"context"
	"fmt"

	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
)

// ScopeOpener opens a database scope outside the request's own.
// database.ScopeProvider satisfies it.
type ScopeOpener interface {
	WithScope(ctx context.Context, userID string) (context.Context, func(), error)
}

type repositoryRequestStore struct {
	scopes ScopeOpener
	repo   repositories.LogRepository
}

// NewRequestStore persists request logs through repo using a short-lived scope.
// The request's own scope is already released when the recorder runs.
func NewRequestStore(scopes ScopeOpener, repo repositories.LogRepository) RequestStore {
	return &repositoryRequestStore{scopes: scopes, repo: repo}
}

func (s *repositoryRequestStore) SaveRequest(ctx context.Context, entry *models.RequestLog) error {
	scoped, cleanup, err := s.scopes.WithScope(ctx, "")
	if err != nil {
		return fmt.Errorf("open scope: %w", err)
	}
	defer cleanup()

	return s.repo.CreateRequest(scoped, entry)
}
