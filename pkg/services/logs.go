package services

import (
	"context"
	"fmt"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
)

// LogPage is one page of a log listing.
type LogPage[T any] struct {
	Total int64 `json:"total"`
	Items []T   `json:"items"`
}

// LogService reads the activity and request logs.
type LogService interface {
	ListRequests(ctx context.Context, skip, limit int) (*LogPage[*models.RequestLog], error)
	ListActivity(ctx context.Context, skip, limit int) (*LogPage[*models.ActivityLog], error)
}

type logService struct {
	repo repositories.LogRepository
}

// NewLogService creates a LogService.
func NewLogService(repo repositories.LogRepository) LogService {
	return &logService{repo: repo}
}

var _ LogService = (*logService)(nil)

func logPage(skip, limit int) (repositories.Page, error) {
	if limit == 0 {
		limit = DefaultDatasetPageSize
	}
	if limit < 1 || limit > MaxDatasetPageSize {
		return repositories.Page{}, apperrors.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", MaxDatasetPageSize))
	}
	if skip < 0 {
		return repositories.Page{}, apperrors.NewValidationError("skip", "must not be negative")
	}
	return repositories.Page{Skip: skip, Limit: limit}, nil
}

func (s *logService) ListRequests(ctx context.Context, skip, limit int) (*LogPage[*models.RequestLog], error) {
	page, err := logPage(skip, limit)
	if err != nil {
		return nil, err
	}
	items, total, err := s.repo.ListRequests(ctx, page)
	if err != nil {
		return nil, err
	}
	return &LogPage[*models.RequestLog]{Total: total, Items: items}, nil
}

func (s *logService) ListActivity(ctx context.Context, skip, limit int) (*LogPage[*models.ActivityLog], error) {
	page, err := logPage(skip, limit)
	if err != nil {
		return nil, err
	}
	items, total, err := s.repo.ListActivity(ctx, page)
	if err != nil {
		return nil, err
	}
	return &LogPage[*models.ActivityLog]{Total: total, Items: items}, nil
}
