package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/services"
)

// LLMConfigRequest is the body of POST /api/llm/configs.
type LLMConfigRequest struct {
	Name     string         `json:"name"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	APIKey   string         `json:"api_key"`
	Config   map[string]any `json:"config,omitempty"`
}

// LLMConfigUpdateRequest is the body of PATCH /api/llm/configs/{id}.
type LLMConfigUpdateRequest struct {
	Name   *string        `json:"name,omitempty"`
	Model  *string        `json:"model,omitempty"`
	APIKey *string        `json:"api_key,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// LLMConfigPage is one page of a user's LLM configurations.
type LLMConfigPage struct {
	Total int64               `json:"total"`
	Items []*models.LLMConfig `json:"items"`
}

// LLMHandler serves the provider catalog, configuration CRUD and chat proxy.
type LLMHandler struct {
	llm    services.LLMService
	logger *zap.Logger
}

// NewLLMHandler creates an LLMHandler.
func NewLLMHandler(llm services.LLMService, logger *zap.Logger) *LLMHandler {
	return &LLMHandler{llm: llm, logger: logger.Named("llm-handler")}
}

// RegisterRoutes registers the LLM routes.
func (h *LLMHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/llm/providers", authMiddleware.RequireAuth(h.Providers))
	mux.HandleFunc("GET /api/llm/prompts", authMiddleware.RequireAuth(h.Prompts))
	mux.HandleFunc("GET /api/llm/configs", authMiddleware.RequireAuth(scope(h.ListConfigs)))
	mux.HandleFunc("POST /api/llm/configs", authMiddleware.RequireAuth(scope(h.CreateConfig)))
	mux.HandleFunc("GET /api/llm/configs/{id}", authMiddleware.RequireAuth(scope(h.GetConfig)))
	mux.HandleFunc("PATCH /api/llm/configs/{id}", authMiddleware.RequireAuth(scope(h.UpdateConfig)))
	mux.HandleFunc("DELETE /api/llm/configs/{id}", authMiddleware.RequireAuth(scope(h.DeleteConfig)))
	mux.HandleFunc("POST /api/llm/configs/{id}/chat", authMiddleware.RequireAuth(scope(h.Chat)))
}

// Providers handles GET /api/llm/providers.
func (h *LLMHandler) Providers(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.llm.Providers(), h.logger)
}

// Prompts handles GET /api/llm/prompts.
func (h *LLMHandler) Prompts(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.llm.Templates(), h.logger)
}

// ListConfigs handles GET /api/llm/configs?skip=&limit=.
func (h *LLMHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	skip, limit, ok := ParsePaging(w, r, h.logger)
	if !ok {
		return
	}
	items, total, err := h.llm.ListConfigs(r.Context(), userID, skip, limit)
	if err != nil {
		writeServiceError(w, err, "list LLM configurations", h.logger)
		return
	}
	writeData(w, http.StatusOK, LLMConfigPage{Total: total, Items: items}, h.logger)
}

// CreateConfig handles POST /api/llm/configs.
func (h *LLMHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	var req LLMConfigRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	created, err := h.llm.CreateConfig(r.Context(), userID, &models.LLMConfig{
		Name:     req.Name,
		Provider: req.Provider,
		Model:    req.Model,
		APIKey:   req.APIKey,
		Config:   req.Config,
	})
	if err != nil {
		writeServiceError(w, err, "create LLM configuration", h.logger)
		return
	}
	writeData(w, http.StatusCreated, created, h.logger)
}

// GetConfig handles GET /api/llm/configs/{id}.
func (h *LLMHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseLLMConfigID(w, r, h.logger)
	if !ok {
		return
	}
	cfg, err := h.llm.GetConfig(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err, "get LLM configuration", h.logger)
		return
	}
	writeData(w, http.StatusOK, cfg, h.logger)
}

// UpdateConfig handles PATCH /api/llm/configs/{id}.
func (h *LLMHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseLLMConfigID(w, r, h.logger)
	if !ok {
		return
	}
	var req LLMConfigUpdateRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	cfg, err := h.llm.UpdateConfig(r.Context(), id, userID, &models.LLMConfigUpdate{
		Name:   req.Name,
		Model:  req.Model,
		APIKey: req.APIKey,
		Config: req.Config,
	})
	if err != nil {
		writeServiceError(w, err, "update LLM configuration", h.logger)
		return
	}
	writeData(w, http.StatusOK, cfg, h.logger)
}

// DeleteConfig handles DELETE /api/llm/configs/{id}.
func (h *LLMHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseLLMConfigID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.llm.DeleteConfig(r.Context(), id, userID); err != nil {
		writeServiceError(w, err, "delete LLM configuration", h.logger)
		return
	}
	writeMessage(w, "LLM configuration deleted", h.logger)
}

// Chat handles POST /api/llm/configs/{id}/chat.
func (h *LLMHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseLLMConfigID(w, r, h.logger)
	if !ok {
		return
	}
	var req models.ChatRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	resp, err := h.llm.Chat(r.Context(), id, userID, &req)
	if err != nil {
		writeServiceError(w, err, "chat", h.logger)
		return
	}
	writeData(w, http.StatusOK, resp, h.logger)
}
