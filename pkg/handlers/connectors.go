package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/logging"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/services"
)

// ConnectorRequest is the body of POST /api/connectors.
type ConnectorRequest struct {
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Type              string         `json:"type"`
	ConnectorType     string         `json:"connector_type"`
	FilePath          string         `json:"file_path,omitempty"`
	ConnectionDetails map[string]any `json:"connection_details,omitempty"`
	ConnectionURI     string         `json:"connection_uri,omitempty"`
}

// ConnectorUpdateRequest is the body of PATCH /api/connectors/{id}.
// Omitted fields are left unchanged.
type ConnectorUpdateRequest struct {
	Name              *string        `json:"name,omitempty"`
	Description       *string        `json:"description,omitempty"`
	Type              *string        `json:"type,omitempty"`
	ConnectorType     *string        `json:"connector_type,omitempty"`
	FilePath          *string        `json:"file_path,omitempty"`
	ConnectionDetails map[string]any `json:"connection_details,omitempty"`
	ConnectionURI     *string        `json:"connection_uri,omitempty"`
}

// ConnectorResponse is a connector with its credentials masked.
type ConnectorResponse struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Type              string         `json:"type"`
	ConnectorType     string         `json:"connector_type"`
	FilePath          string         `json:"file_path,omitempty"`
	ConnectionDetails map[string]any `json:"connection_details,omitempty"`
	ConnectionURI     string         `json:"connection_uri,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// WriteRowsRequest is the body of POST /api/connectors/{id}/write.
type WriteRowsRequest struct {
	Table  string                    `json:"table"`
	Rows   []map[string]any          `json:"rows"`
	Schema []models.ColumnDefinition `json:"schema,omitempty"`
}

// ReadRequest is the body of POST /api/connectors/{id}/read.
type ReadRequest struct {
	Sources []string `json:"sources"`
	Limit   int      `json:"limit,omitempty"`
}

// ConnectorsHandler serves connector CRUD and the capability operations.
type ConnectorsHandler struct {
	connectors services.ConnectorService
	logger     *zap.Logger
}

// NewConnectorsHandler creates a ConnectorsHandler.
func NewConnectorsHandler(connectors services.ConnectorService, logger *zap.Logger) *ConnectorsHandler {
	return &ConnectorsHandler{connectors: connectors, logger: logger.Named("connectors-handler")}
}

// RegisterRoutes registers the connector routes.
func (h *ConnectorsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/connectors/types", authMiddleware.RequireAuth(h.ListTypes))
	mux.HandleFunc("GET /api/connectors", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("POST /api/connectors", authMiddleware.RequireAuth(scope(h.Create)))
	mux.HandleFunc("GET /api/connectors/{id}", authMiddleware.RequireAuth(scope(h.Get)))
	mux.HandleFunc("PATCH /api/connectors/{id}", authMiddleware.RequireAuth(scope(h.Update)))
	mux.HandleFunc("DELETE /api/connectors/{id}", authMiddleware.RequireAuth(scope(h.Delete)))
	mux.HandleFunc("POST /api/connectors/{id}/test", authMiddleware.RequireAuth(scope(h.Test)))
	mux.HandleFunc("POST /api/connectors/{id}/write", authMiddleware.RequireAuth(scope(h.Write)))
	mux.HandleFunc("POST /api/connectors/{id}/read", authMiddleware.RequireAuth(scope(h.Read)))
	mux.HandleFunc("GET /api/connectors/{id}/sources", authMiddleware.RequireAuth(scope(h.ListSources)))
}

// ListTypes handles GET /api/connectors/types.
func (h *ConnectorsHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.connectors.ListTypes(), h.logger)
}

// List handles GET /api/connectors, optionally filtered by ?connector_type=.
func (h *ConnectorsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	connectors, err := h.connectors.List(r.Context(), userID, r.URL.Query().Get("connector_type"))
	if err != nil {
		writeServiceError(w, err, "list connectors", h.logger)
		return
	}
	out := make([]ConnectorResponse, 0, len(connectors))
	for _, c := range connectors {
		out = append(out, toConnectorResponse(c))
	}
	writeData(w, http.StatusOK, out, h.logger)
}

// Create handles POST /api/connectors.
func (h *ConnectorsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	var req ConnectorRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	created, err := h.connectors.Create(r.Context(), userID, &models.Connector{
		Name:              req.Name,
		Description:       req.Description,
		Type:              req.Type,
		ConnectorType:     req.ConnectorType,
		FilePath:          req.FilePath,
		ConnectionDetails: req.ConnectionDetails,
		ConnectionURI:     req.ConnectionURI,
	})
	if err != nil {
		writeServiceError(w, err, "create connector", h.logger)
		return
	}
	writeData(w, http.StatusCreated, toConnectorResponse(created), h.logger)
}

// Get handles GET /api/connectors/{id}.
func (h *ConnectorsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	c, err := h.connectors.Get(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err, "get connector", h.logger)
		return
	}
	writeData(w, http.StatusOK, toConnectorResponse(c), h.logger)
}

// Update handles PATCH /api/connectors/{id}.
func (h *ConnectorsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req ConnectorUpdateRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	updated, err := h.connectors.Update(r.Context(), id, userID, &models.ConnectorUpdate{
		Name:              req.Name,
		Description:       req.Description,
		Type:              req.Type,
		ConnectorType:     req.ConnectorType,
		FilePath:          req.FilePath,
		ConnectionDetails: req.ConnectionDetails,
		ConnectionURI:     req.ConnectionURI,
	})
	if err != nil {
		writeServiceError(w, err, "update connector", h.logger)
		return
	}
	writeData(w, http.StatusOK, toConnectorResponse(updated), h.logger)
}

// Delete handles DELETE /api/connectors/{id}.
func (h *ConnectorsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.connectors.Delete(r.Context(), id, userID); err != nil {
		writeServiceError(w, err, "delete connector", h.logger)
		return
	}
	writeMessage(w, "Connector deleted", h.logger)
}

// Test handles POST /api/connectors/{id}/test. A failed probe is a normal
// 200 response with success=false.
func (h *ConnectorsHandler) Test(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	result, err := h.connectors.Test(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err, "test connector", h.logger)
		return
	}
	writeData(w, http.StatusOK, result, h.logger)
}

// Write handles POST /api/connectors/{id}/write.
func (h *ConnectorsHandler) Write(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req WriteRowsRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.connectors.Write(r.Context(), id, userID, connector.WriteRequest{
		Table:  req.Table,
		Rows:   req.Rows,
		Schema: req.Schema,
	})
	if err != nil {
		writeServiceError(w, err, "write rows", h.logger)
		return
	}
	writeData(w, http.StatusOK, result, h.logger)
}

// Read handles POST /api/connectors/{id}/read.
func (h *ConnectorsHandler) Read(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req ReadRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	samples, err := h.connectors.Read(r.Context(), id, userID, req.Sources, req.Limit)
	if err != nil {
		writeServiceError(w, err, "read sources", h.logger)
		return
	}
	writeData(w, http.StatusOK, samples, h.logger)
}

// ListSources handles GET /api/connectors/{id}/sources.
func (h *ConnectorsHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	entries, err := h.connectors.ListSources(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err, "list sources", h.logger)
		return
	}
	writeData(w, http.StatusOK, entries, h.logger)
}

func (h *ConnectorsHandler) ids(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := ParseConnectorID(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func toConnectorResponse(c *models.Connector) ConnectorResponse {
	return ConnectorResponse{
		ID:                c.ID.String(),
		Name:              c.Name,
		Description:       c.Description,
		Type:              c.Type,
		ConnectorType:     c.ConnectorType,
		FilePath:          c.FilePath,
		ConnectionDetails: logging.MaskDetails(c.ConnectionDetails),
		ConnectionURI:     logging.ConnectionString(c.ConnectionURI),
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}
