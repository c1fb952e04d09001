package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/services"
)

// DatasetRequest is the body of POST /api/datasets.
type DatasetRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	ConnectorID string         `json:"connector_id"`
	SourceType  string         `json:"source_type"`
	SourcePath  string         `json:"source_path"`
	Metadata    map[string]any `json:"dataset_metadata,omitempty"`
}

// DatasetUpdateRequest is the body of PATCH /api/datasets/{id}.
type DatasetUpdateRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"dataset_metadata,omitempty"`
}

// TransformationRequest is the body of POST /api/datasets/{id}/transformations.
type TransformationRequest struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
	Order  int            `json:"order"`
}

// DescribeRequest is the body of POST /api/datasets/{id}/describe.
type DescribeRequest struct {
	LLMConfigID int64 `json:"llm_config_id"`
}

// DatasetsHandler serves the dataset catalog.
type DatasetsHandler struct {
	datasets services.DatasetService
	logger   *zap.Logger
}

// NewDatasetsHandler creates a DatasetsHandler.
func NewDatasetsHandler(datasets services.DatasetService, logger *zap.Logger) *DatasetsHandler {
	return &DatasetsHandler{datasets: datasets, logger: logger.Named("datasets-handler")}
}

// RegisterRoutes registers the dataset routes.
func (h *DatasetsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/datasets", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("POST /api/datasets", authMiddleware.RequireAuth(scope(h.Create)))
	mux.HandleFunc("GET /api/datasets/{id}", authMiddleware.RequireAuth(scope(h.Get)))
	mux.HandleFunc("PATCH /api/datasets/{id}", authMiddleware.RequireAuth(scope(h.Update)))
	mux.HandleFunc("DELETE /api/datasets/{id}", authMiddleware.RequireAuth(scope(h.Delete)))
	mux.HandleFunc("GET /api/datasets/{id}/transformations", authMiddleware.RequireAuth(scope(h.ListTransformations)))
	mux.HandleFunc("POST /api/datasets/{id}/transformations", authMiddleware.RequireAuth(scope(h.AddTransformation)))
	mux.HandleFunc("DELETE /api/datasets/{id}/transformations/{tid}", authMiddleware.RequireAuth(scope(h.DeleteTransformation)))
	mux.HandleFunc("POST /api/datasets/{id}/schema/refresh", authMiddleware.RequireAuth(scope(h.RefreshSchema)))
	mux.HandleFunc("GET /api/datasets/{id}/preview", authMiddleware.RequireAuth(scope(h.Preview)))
	mux.HandleFunc("POST /api/datasets/{id}/describe", authMiddleware.RequireAuth(scope(h.Describe)))
}

// List handles GET /api/datasets?skip=&limit=&search=&source_type=.
func (h *DatasetsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	skip, limit, ok := ParsePaging(w, r, h.logger)
	if !ok {
		return
	}
	query := r.URL.Query()

	page, err := h.datasets.List(r.Context(), userID, models.DatasetFilter{
		Skip:       skip,
		Limit:      limit,
		Search:     query.Get("search"),
		SourceType: query.Get("source_type"),
	})
	if err != nil {
		writeServiceError(w, err, "list datasets", h.logger)
		return
	}
	writeData(w, http.StatusOK, page, h.logger)
}

// Create handles POST /api/datasets. Schema inference runs before anything is stored.
func (h *DatasetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	var req DatasetRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	connectorID, err := uuid.Parse(req.ConnectorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_connector_id", "Invalid connector ID format", h.logger)
		return
	}

	created, err := h.datasets.Create(r.Context(), userID, &models.Dataset{
		Name:        req.Name,
		Description: req.Description,
		ConnectorID: connectorID,
		SourceType:  req.SourceType,
		SourcePath:  req.SourcePath,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err, "create dataset", h.logger)
		return
	}
	writeData(w, http.StatusCreated, created, h.logger)
}

// Get handles GET /api/datasets/{id}.
func (h *DatasetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	ds, err := h.datasets.Get(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err, "get dataset", h.logger)
		return
	}
	writeData(w, http.StatusOK, ds, h.logger)
}

// Update handles PATCH /api/datasets/{id}.
func (h *DatasetsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req DatasetUpdateRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	ds, err := h.datasets.Update(r.Context(), id, userID, &models.DatasetUpdate{
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err, "update dataset", h.logger)
		return
	}
	writeData(w, http.StatusOK, ds, h.logger)
}

// Delete handles DELETE /api/datasets/{id}.
func (h *DatasetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.datasets.Delete(r.Context(), id, userID); err != nil {
		writeServiceError(w, err, "delete dataset", h.logger)
		return
	}
	writeMessage(w, "Dataset deleted", h.logger)
}

// ListTransformations handles GET /api/datasets/{id}/transformations.
func (h *DatasetsHandler) ListTransformations(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	items, err := h.datasets.ListTransformations(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err, "list transformations", h.logger)
		return
	}
	writeData(w, http.StatusOK, items, h.logger)
}

// AddTransformation handles POST /api/datasets/{id}/transformations.
func (h *DatasetsHandler) AddTransformation(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req TransformationRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	created, err := h.datasets.AddTransformation(r.Context(), id, userID, &models.Transformation{
		Name:   req.Name,
		Type:   req.Type,
		Config: req.Config,
		Order:  req.Order,
	})
	if err != nil {
		writeServiceError(w, err, "add transformation", h.logger)
		return
	}
	writeData(w, http.StatusCreated, created, h.logger)
}

// DeleteTransformation handles DELETE /api/datasets/{id}/transformations/{tid}.
func (h *DatasetsHandler) DeleteTransformation(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	tid, ok := ParseTransformationID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.datasets.DeleteTransformation(r.Context(), id, tid, userID); err != nil {
		writeServiceError(w, err, "delete transformation", h.logger)
		return
	}
	writeMessage(w, "Transformation deleted", h.logger)
}

// RefreshSchema handles POST /api/datasets/{id}/schema/refresh.
func (h *DatasetsHandler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	ds, err := h.datasets.RefreshSchema(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err, "refresh schema", h.logger)
		return
	}
	writeData(w, http.StatusOK, ds, h.logger)
}

// Preview handles GET /api/datasets/{id}/preview?limit=.
func (h *DatasetsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", h.logger)
	if !ok {
		return
	}
	preview, err := h.datasets.Preview(r.Context(), id, userID, limit)
	if err != nil {
		writeServiceError(w, err, "preview dataset", h.logger)
		return
	}
	writeData(w, http.StatusOK, preview, h.logger)
}

// Describe handles POST /api/datasets/{id}/describe.
func (h *DatasetsHandler) Describe(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req DescribeRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	resp, err := h.datasets.Describe(r.Context(), id, userID, req.LLMConfigID)
	if err != nil {
		writeServiceError(w, err, "describe dataset", h.logger)
		return
	}
	writeData(w, http.StatusOK, resp, h.logger)
}

func (h *DatasetsHandler) ids(w http.ResponseWriter, r *http.Request) (uuid.UUID, int64, bool) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return uuid.Nil, 0, false
	}
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return uuid.Nil, 0, false
	}
	return userID, id, true
}
