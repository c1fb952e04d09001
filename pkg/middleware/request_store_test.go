package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
)

type scopeMarker struct{}

type mockScopeOpener struct {
	err      error
	released bool
}

func (m *mockScopeOpener) WithScope(ctx context.Context, _ string) (context.Context, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return context.WithValue(ctx, scopeMarker{}, true), func() { m.released = true }, nil
}

type mockLogRepository struct {
	repositories.LogRepository
	scoped  bool
	created *models.RequestLog
}

func (m *mockLogRepository) CreateRequest(ctx context.Context, entry *models.RequestLog) error {
	m.scoped, _ = ctx.Value(scopeMarker{}).(bool)
	m.created = entry
	return nil
}

func TestRequestStore_UsesOwnScope(t *testing.T) {
	scopes := &mockScopeOpener{}
	repo := &mockLogRepository{}
	store := NewRequestStore(scopes, repo)

	entry := &models.RequestLog{Method: "GET", Path: "/api/datasets", Status: 200}
	if err := store.SaveRequest(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.scoped {
		t.Error("expected repository to receive a scoped context")
	}
	if repo.created != entry {
		t.Error("expected entry to be passed through")
	}
	if !scopes.released {
		t.Error("expected scope to be released")
	}
}

func TestRequestStore_ScopeFailure(t *testing.T) {
	store := NewRequestStore(&mockScopeOpener{err: errors.New("pool closed")}, &mockLogRepository{})

	if err := store.SaveRequest(context.Background(), &models.RequestLog{}); err == nil {
		t.Fatal("expected error when no scope can be opened")
	}
}
