package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/audit"
	"github.com/datasaki/datasaki-engine/pkg/llm"
	"github.com/datasaki/datasaki-engine/pkg/logging"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/prompts"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
	"github.com/datasaki/datasaki-engine/pkg/retry"
)

// LLMService manages saved model configurations and proxies chat calls.
type LLMService interface {
	CreateConfig(ctx context.Context, ownerID uuid.UUID, cfg *models.LLMConfig) (*models.LLMConfig, error)
	// ListConfigs pages through the owner's configurations; a zero limit means 10.
	ListConfigs(ctx context.Context, ownerID uuid.UUID, skip, limit int) ([]*models.LLMConfig, int64, error)
	GetConfig(ctx context.Context, id int64, ownerID uuid.UUID) (*models.LLMConfig, error)
	UpdateConfig(ctx context.Context, id int64, ownerID uuid.UUID, upd *models.LLMConfigUpdate) (*models.LLMConfig, error)
	DeleteConfig(ctx context.Context, id int64, ownerID uuid.UUID) error

	// Chat sends the conversation through the configuration's provider.
	// Transient provider failures are retried with backoff.
	Chat(ctx context.Context, configID int64, ownerID uuid.UUID, req *models.ChatRequest) (*models.ChatResponse, error)

	Providers() []llm.ProviderInfo
	Templates() []prompts.Template
}

type llmService struct {
	repo      repositories.LLMConfigRepository
	providers *llm.Registry
	templates *prompts.Library
	policy    retry.Policy
	activity  audit.ActivityRecorder
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
}

// NewLLMService creates an LLMService.
func NewLLMService(
	repo repositories.LLMConfigRepository,
	providers *llm.Registry,
	templates *prompts.Library,
	policy retry.Policy,
	activity audit.ActivityRecorder,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) LLMService {
	return &llmService{
		repo:      repo,
		providers: providers,
		templates: templates,
		policy:    policy,
		activity:  activity,
		auditor:   auditor,
		logger:    logger.Named("llm-service"),
	}
}

var _ LLMService = (*llmService)(nil)

func (s *llmService) Providers() []llm.ProviderInfo {
	return s.providers.List()
}

func (s *llmService) Templates() []prompts.Template {
	return s.templates.List()
}

func (s *llmService) CreateConfig(ctx context.Context, ownerID uuid.UUID, cfg *models.LLMConfig) (*models.LLMConfig, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return nil, apperrors.MissingField("name")
	}
	provider, err := s.providers.Get(cfg.Provider)
	if err != nil {
		return nil, apperrors.NewValidationError("provider", fmt.Sprintf("unsupported provider %q", cfg.Provider))
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = provider.Info().DefaultModel
	}
	if cfg.Config == nil {
		cfg.Config = map[string]any{}
	}

	cfg.UserID = ownerID
	if err := s.repo.Create(ctx, cfg); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("llm configuration %q already exists: %w", cfg.Name, apperrors.ErrConflict)
		}
		return nil, err
	}

	s.activity.Record(ctx, models.ActionLLMConfigCreate, &ownerID, map[string]any{
		"llm_config_id": cfg.ID,
		"provider":      cfg.Provider,
		"model":         cfg.Model,
	})
	return cfg, nil
}

func (s *llmService) ListConfigs(ctx context.Context, ownerID uuid.UUID, skip, limit int) ([]*models.LLMConfig, int64, error) {
	if limit == 0 {
		limit = DefaultDatasetPageSize
	}
	if limit < 1 || limit > MaxDatasetPageSize {
		return nil, 0, apperrors.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", MaxDatasetPageSize))
	}
	if skip < 0 {
		return nil, 0, apperrors.NewValidationError("skip", "must not be negative")
	}
	return s.repo.List(ctx, ownerID, repositories.Page{Skip: skip, Limit: limit})
}

func (s *llmService) owned(ctx context.Context, id int64, ownerID uuid.UUID, op string) (*models.LLMConfig, error) {
	cfg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.UserID != ownerID {
		s.auditor.LogAccessDenied(ctx, audit.AccessDetails{
			Resource:   "llm_config",
			ResourceID: strconv.FormatInt(id, 10),
			Operation:  op,
		})
		return nil, fmt.Errorf("llm configuration %d: %w", id, apperrors.ErrForbidden)
	}
	return cfg, nil
}

func (s *llmService) GetConfig(ctx context.Context, id int64, ownerID uuid.UUID) (*models.LLMConfig, error) {
	return s.owned(ctx, id, ownerID, "get")
}

func (s *llmService) UpdateConfig(ctx context.Context, id int64, ownerID uuid.UUID, upd *models.LLMConfigUpdate) (*models.LLMConfig, error) {
	cfg, err := s.owned(ctx, id, ownerID, "update")
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperrors.MissingField("name")
		}
		cfg.Name = name
	}
	if upd.Model != nil && strings.TrimSpace(*upd.Model) != "" {
		cfg.Model = strings.TrimSpace(*upd.Model)
	}
	if upd.APIKey != nil {
		cfg.APIKey = *upd.APIKey
	}
	if upd.Config != nil {
		cfg.Config = upd.Config
	}
	if err := s.repo.Update(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *llmService) DeleteConfig(ctx context.Context, id int64, ownerID uuid.UUID) error {
	if _, err := s.owned(ctx, id, ownerID, "delete"); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.activity.Record(ctx, models.ActionLLMConfigDelete, &ownerID, map[string]any{"llm_config_id": id})
	return nil
}

// buildRequest validates the conversation and renders the last user turn
// through the requested template.
func (s *llmService) buildRequest(cfg *models.LLMConfig, req *models.ChatRequest) (*llm.Request, error) {
	if len(req.Messages) == 0 {
		return nil, apperrors.NewValidationError("messages", "at least one message is required")
	}

	out := &llm.Request{
		Messages:    make([]llm.Message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	lastUser := -1
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, apperrors.NewValidationError(fmt.Sprintf("messages[%d].role", i), fmt.Sprintf("unsupported role %q", m.Role))
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, apperrors.MissingField(fmt.Sprintf("messages[%d].content", i))
		}
		if m.Role == llm.RoleUser {
			lastUser = i
		}
		out.Messages = append(out.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	if lastUser < 0 {
		return nil, apperrors.NewValidationError("messages", "at least one user message is required")
	}

	if req.Template != "" {
		rendered, err := s.templates.Render(req.Template, out.Messages[lastUser].Content)
		if err != nil {
			return nil, apperrors.NewValidationError("template", err.Error())
		}
		out.Messages[lastUser].Content = rendered
	}

	// Saved defaults apply when the request leaves them out.
	if out.Temperature == nil {
		if t, ok := cfg.Config["temperature"].(float64); ok {
			out.Temperature = &t
		}
	}
	if out.MaxTokens <= 0 {
		if n, ok := cfg.Config["max_tokens"].(float64); ok && n > 0 {
			out.MaxTokens = int(n)
		}
	}
	return out, nil
}

func (s *llmService) Chat(ctx context.Context, configID int64, ownerID uuid.UUID, req *models.ChatRequest) (*models.ChatResponse, error) {
	cfg, err := s.owned(ctx, configID, ownerID, "chat")
	if err != nil {
		return nil, err
	}
	lreq, err := s.buildRequest(cfg, req)
	if err != nil {
		return nil, err
	}

	provider, err := s.providers.Get(cfg.Provider)
	if err != nil {
		return nil, apperrors.NewValidationError("provider", err.Error())
	}
	client, err := provider.NewClient(cfg.APIKey, cfg.Model)
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, apperrors.NewValidationError("api_key", err.Error())
		}
		return nil, err
	}

	resp, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*llm.Response, error) {
		return client.Chat(ctx, lreq)
	})
	if err != nil {
		s.logger.Error("Chat failed",
			zap.Int64("llm_config_id", configID),
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
			zap.String("error", logging.Error(err)))
		return nil, apperrors.Backend("chat "+cfg.Provider, err)
	}

	s.logger.Debug("Chat completed",
		zap.Int64("llm_config_id", configID),
		zap.String("provider", cfg.Provider),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens))
	return &models.ChatResponse{
		Content:          resp.Content,
		Provider:         resp.Provider,
		Model:            resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}
