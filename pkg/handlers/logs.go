package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/services"
)

// LogsHandler exposes the request and activity logs to administrators.
type LogsHandler struct {
	logs   services.LogService
	logger *zap.Logger
}

// NewLogsHandler creates a LogsHandler.
func NewLogsHandler(logs services.LogService, logger *zap.Logger) *LogsHandler {
	return &LogsHandler{logs: logs, logger: logger.Named("logs-handler")}
}

// RegisterRoutes registers the admin-only log routes.
func (h *LogsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	requireAdmin := authMiddleware.RequireRole(models.RoleAdmin)
	mux.HandleFunc("GET /api/logs/requests", requireAdmin(scope(h.ListRequests)))
	mux.HandleFunc("GET /api/logs/activity", requireAdmin(scope(h.ListActivity)))
}

// ListRequests handles GET /api/logs/requests?skip=&limit=.
func (h *LogsHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := ParsePaging(w, r, h.logger)
	if !ok {
		return
	}
	page, err := h.logs.ListRequests(r.Context(), skip, limit)
	if err != nil {
		writeServiceError(w, err, "list request logs", h.logger)
		return
	}
	writeData(w, http.StatusOK, page, h.logger)
}

// ListActivity handles GET /api/logs/activity?skip=&limit=.
func (h *LogsHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := ParsePaging(w, r, h.logger)
	if !ok {
		return
	}
	page, err := h.logs.ListActivity(r.Context(), skip, limit)
	if err != nil {
		writeServiceError(w, err, "list activity logs", h.logger)
		return
	}
	writeData(w, http.StatusOK, page, h.logger)
}
