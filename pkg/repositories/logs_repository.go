package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

// LogRepository persists activity and request logs.
type LogRepository interface {
	CreateActivity(ctx context.Context, entry *models.ActivityLog) error
	// ListActivity returns newest first with the total count.
	ListActivity(ctx context.Context, page Page) ([]*models.ActivityLog, int64, error)

	CreateRequest(ctx context.Context, entry *models.RequestLog) error
	// ListRequests returns newest first with the total count.
	ListRequests(ctx context.Context, page Page) ([]*models.RequestLog, int64, error)
}

type logRepository struct{}

// NewLogRepository creates a new log repository.
func NewLogRepository() LogRepository {
	return &logRepository{}
}

var _ LogRepository = (*logRepository)(nil)

func (r *logRepository) CreateActivity(ctx context.Context, entry *models.ActivityLog) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	details, err := marshalObject(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}
	entry.CreatedAt = time.Now().UTC()

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO activity_logs (action, user_id, details, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, entry.Action, entry.UserID, details, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create activity log: %w", err)
	}
	return nil
}

func (r *logRepository) ListActivity(ctx context.Context, page Page) ([]*models.ActivityLog, int64, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := page.validate(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := scope.Conn.QueryRow(ctx, `SELECT COUNT(*) FROM activity_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count activity logs: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, action, user_id, details, created_at
		FROM activity_logs
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2`, page.Skip, page.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activity logs: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ActivityLog, 0)
	for rows.Next() {
		var e models.ActivityLog
		var details []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &details, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan activity log: %w", err)
		}
		e.Details = map[string]any{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating activity logs: %w", err)
	}
	return out, total, nil
}

func (r *logRepository) CreateRequest(ctx context.Context, entry *models.RequestLog) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	var email *string
	if entry.UserEmail != "" {
		email = &entry.UserEmail
	}
	entry.CreatedAt = time.Now().UTC()

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO request_logs (method, path, user_email, client_ip, user_agent, status, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.Method, entry.Path, email, entry.ClientIP, entry.UserAgent, entry.Status, entry.DurationMS, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create request log: %w", err)
	}
	return nil
}

func (r *logRepository) ListRequests(ctx context.Context, page Page) ([]*models.RequestLog, int64, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := page.validate(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := scope.Conn.QueryRow(ctx, `SELECT COUNT(*) FROM request_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count request logs: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, method, path, COALESCE(user_email, ''), client_ip, user_agent, status, duration_ms, created_at
		FROM request_logs
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2`, page.Skip, page.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list request logs: %w", err)
	}
	defer rows.Close()

	out := make([]*models.RequestLog, 0)
	for rows.Next() {
		var e models.RequestLog
		if err := rows.Scan(&e.ID, &e.Method, &e.Path, &e.UserEmail, &e.ClientIP, &e.UserAgent, &e.Status, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan request log: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating request logs: %w", err)
	}
	return out, total, nil
}
