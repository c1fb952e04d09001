package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
)

// ActivityRecorder records user-visible actions.
type ActivityRecorder interface {
	// Record persists the action through the scope in ctx. Failures are
	// logged and never returned: the action itself already succeeded.
	Record(ctx context.Context, action string, userID *uuid.UUID, details map[string]any)
}

type activityRecorder struct {
	repo   repositories.LogRepository
	logger *zap.Logger
}

// NewActivityRecorder creates an ActivityRecorder backed by repo.
func NewActivityRecorder(repo repositories.LogRepository, logger *zap.Logger) ActivityRecorder {
	return &activityRecorder{
		repo:   repo,
		logger: logger.Named("activity"),
	}
}

var _ ActivityRecorder = (*activityRecorder)(nil)

func (r *activityRecorder) Record(ctx context.Context, action string, userID *uuid.UUID, details map[string]any) {
	fields := []zap.Field{zap.String("action", action), zap.Any("details", details)}
	if userID != nil {
		fields = append(fields, zap.String("user_id", userID.String()))
	}
	r.logger.Info("Activity", fields...)

	entry := &models.ActivityLog{Action: action, UserID: userID, Details: details}
	if err := r.repo.CreateActivity(ctx, entry); err != nil {
		r.logger.Error("Failed to persist activity log", append(fields, zap.Error(err))...)
	}
}

// NopActivityRecorder discards everything.
type NopActivityRecorder struct{}

func (NopActivityRecorder) Record(context.Context, string, *uuid.UUID, map[string]any) {}
