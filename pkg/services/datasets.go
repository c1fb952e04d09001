package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/audit"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/llm"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/prompts"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
)

// Dataset listing bounds.
const (
	DefaultDatasetPageSize = 10
	MaxDatasetPageSize     = 100
)

// DatasetService catalogs datasets and their transformation chains.
type DatasetService interface {
	// Create infers the source schema through the connector and stores the
	// dataset only when inference succeeds.
	Create(ctx context.Context, ownerID uuid.UUID, d *models.Dataset) (*models.Dataset, error)

	// Get returns the dataset with its transformations in chain order.
	Get(ctx context.Context, id int64, ownerID uuid.UUID) (*models.Dataset, error)

	// List pages through the owner's datasets. A zero limit means DefaultDatasetPageSize.
	List(ctx context.Context, ownerID uuid.UUID, filter models.DatasetFilter) (*models.DatasetPage, error)

	Update(ctx context.Context, id int64, ownerID uuid.UUID, upd *models.DatasetUpdate) (*models.Dataset, error)

	// Delete removes the dataset and its transformations atomically.
	Delete(ctx context.Context, id int64, ownerID uuid.UUID) error

	AddTransformation(ctx context.Context, datasetID int64, ownerID uuid.UUID, t *models.Transformation) (*models.Transformation, error)
	ListTransformations(ctx context.Context, datasetID int64, ownerID uuid.UUID) ([]*models.Transformation, error)
	DeleteTransformation(ctx context.Context, datasetID, transformationID int64, ownerID uuid.UUID) error

	// RefreshSchema re-runs inference and replaces the stored snapshot.
	RefreshSchema(ctx context.Context, id int64, ownerID uuid.UUID) (*models.Dataset, error)

	// Preview reads a capped sample of the dataset's source. Transformations
	// are returned alongside and are not applied.
	Preview(ctx context.Context, id int64, ownerID uuid.UUID, limit int) (*models.DatasetPreview, error)

	// Describe asks one of the owner's LLM configurations to summarize the dataset.
	Describe(ctx context.Context, id int64, ownerID uuid.UUID, llmConfigID int64) (*models.ChatResponse, error)
}

// Chatter sends a chat request through a saved LLM configuration. LLMService satisfies it.
type Chatter interface {
	Chat(ctx context.Context, configID int64, ownerID uuid.UUID, req *models.ChatRequest) (*models.ChatResponse, error)
}

type datasetService struct {
	repo       repositories.DatasetRepository
	connectors ConnectorService
	inferrer   SchemaInferrer
	cache      PreviewCache
	chat       Chatter
	cfg        config.ConnectorsConfig
	activity   audit.ActivityRecorder
	auditor    *audit.SecurityAuditor
	logger     *zap.Logger
}

// NewDatasetService creates a DatasetService.
func NewDatasetService(
	repo repositories.DatasetRepository,
	connectors ConnectorService,
	inferrer SchemaInferrer,
	cache PreviewCache,
	chat Chatter,
	cfg config.ConnectorsConfig,
	activity audit.ActivityRecorder,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) DatasetService {
	if cache == nil {
		cache = nopPreviewCache{}
	}
	return &datasetService{
		repo:       repo,
		connectors: connectors,
		inferrer:   inferrer,
		cache:      cache,
		chat:       chat,
		cfg:        cfg,
		activity:   activity,
		auditor:    auditor,
		logger:     logger.Named("dataset-service"),
	}
}

var _ DatasetService = (*datasetService)(nil)

func (s *datasetService) Create(ctx context.Context, ownerID uuid.UUID, d *models.Dataset) (*models.Dataset, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, apperrors.MissingField("name")
	}
	if d.ConnectorID == uuid.Nil {
		return nil, apperrors.MissingField("connector_id")
	}
	if !models.IsValidSourceType(d.SourceType) {
		return nil, apperrors.NewValidationError("source_type", fmt.Sprintf("unknown source type %q", d.SourceType))
	}

	conn, err := s.connectors.Get(ctx, d.ConnectorID, ownerID)
	if err != nil {
		return nil, err
	}

	snap, err := s.inferrer.Infer(ctx, conn, d.SourceType, d.SourcePath)
	if err != nil {
		return nil, err
	}

	d.UserID = ownerID
	d.SchemaInfo = snap
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("Dataset created",
		zap.Int64("dataset_id", d.ID),
		zap.String("connector_id", conn.ID.String()),
		zap.String("source_type", d.SourceType),
		zap.Int("columns", len(snap.Columns)))
	s.activity.Record(ctx, models.ActionDatasetCreate, &ownerID, map[string]any{
		"dataset_id":   d.ID,
		"connector_id": conn.ID.String(),
	})
	return d, nil
}

// owned loads a dataset and checks it belongs to ownerID.
func (s *datasetService) owned(ctx context.Context, id int64, ownerID uuid.UUID, op string) (*models.Dataset, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != ownerID {
		s.auditor.LogAccessDenied(ctx, audit.AccessDetails{
			Resource:   "dataset",
			ResourceID: strconv.FormatInt(id, 10),
			Operation:  op,
		})
		return nil, fmt.Errorf("dataset %d: %w", id, apperrors.ErrForbidden)
	}
	return d, nil
}

func (s *datasetService) Get(ctx context.Context, id int64, ownerID uuid.UUID) (*models.Dataset, error) {
	d, err := s.owned(ctx, id, ownerID, "get")
	if err != nil {
		return nil, err
	}
	d.Transformations, err = s.repo.ListTransformations(ctx, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *datasetService) List(ctx context.Context, ownerID uuid.UUID, filter models.DatasetFilter) (*models.DatasetPage, error) {
	if filter.Limit == 0 {
		filter.Limit = DefaultDatasetPageSize
	}
	if filter.Limit < 1 || filter.Limit > MaxDatasetPageSize {
		return nil, apperrors.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", MaxDatasetPageSize))
	}
	if filter.Skip < 0 {
		return nil, apperrors.NewValidationError("skip", "must not be negative")
	}
	if filter.SourceType != "" && !models.IsValidSourceType(filter.SourceType) {
		return nil, apperrors.NewValidationError("source_type", fmt.Sprintf("unknown source type %q", filter.SourceType))
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.List(ctx, ownerID, filter)
}

func (s *datasetService) Update(ctx context.Context, id int64, ownerID uuid.UUID, upd *models.DatasetUpdate) (*models.Dataset, error) {
	d, err := s.owned(ctx, id, ownerID, "update")
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperrors.MissingField("name")
		}
		d.Name = name
	}
	if upd.Description != nil {
		d.Description = *upd.Description
	}
	if upd.Metadata != nil {
		d.Metadata = upd.Metadata
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *datasetService) Delete(ctx context.Context, id int64, ownerID uuid.UUID) error {
	if _, err := s.owned(ctx, id, ownerID, "delete"); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.activity.Record(ctx, models.ActionDatasetDelete, &ownerID, map[string]any{"dataset_id": id})
	return nil
}

func (s *datasetService) AddTransformation(ctx context.Context, datasetID int64, ownerID uuid.UUID, t *models.Transformation) (*models.Transformation, error) {
	if _, err := s.owned(ctx, datasetID, ownerID, "add_transformation"); err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, apperrors.MissingField("name")
	}
	if strings.TrimSpace(t.Type) == "" {
		return nil, apperrors.MissingField("type")
	}
	if t.Config == nil {
		t.Config = map[string]any{}
	}
	t.DatasetID = datasetID
	if err := s.repo.AddTransformation(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *datasetService) ListTransformations(ctx context.Context, datasetID int64, ownerID uuid.UUID) ([]*models.Transformation, error) {
	if _, err := s.owned(ctx, datasetID, ownerID, "list_transformations"); err != nil {
		return nil, err
	}
	return s.repo.ListTransformations(ctx, datasetID)
}

func (s *datasetService) DeleteTransformation(ctx context.Context, datasetID, transformationID int64, ownerID uuid.UUID) error {
	if _, err := s.owned(ctx, datasetID, ownerID, "delete_transformation"); err != nil {
		return err
	}
	return s.repo.DeleteTransformation(ctx, datasetID, transformationID)
}

func (s *datasetService) RefreshSchema(ctx context.Context, id int64, ownerID uuid.UUID) (*models.Dataset, error) {
	d, err := s.owned(ctx, id, ownerID, "refresh_schema")
	if err != nil {
		return nil, err
	}
	conn, err := s.connectors.Get(ctx, d.ConnectorID, ownerID)
	if err != nil {
		return nil, err
	}
	snap, err := s.inferrer.Infer(ctx, conn, d.SourceType, d.SourcePath)
	if err != nil {
		return nil, err
	}
	updatedAt, err := s.repo.UpdateSchema(ctx, id, snap)
	if err != nil {
		return nil, err
	}
	d.SchemaInfo = snap
	d.UpdatedAt = updatedAt
	return d, nil
}

func (s *datasetService) Preview(ctx context.Context, id int64, ownerID uuid.UUID, limit int) (*models.DatasetPreview, error) {
	d, err := s.owned(ctx, id, ownerID, "preview")
	if err != nil {
		return nil, err
	}
	transformations, err := s.repo.ListTransformations(ctx, id)
	if err != nil {
		return nil, err
	}
	limit = clampRows(s.cfg, limit)
	preview := &models.DatasetPreview{DatasetID: id, Transformations: transformations}

	key := previewKey(d, limit)
	if sample, ok := s.cache.Get(ctx, key); ok {
		preview.Sample = sample
		preview.Cached = true
		return preview, nil
	}

	ctx, cancel := withTimeout(ctx, s.cfg.InferTimeout)
	defer cancel()

	conn, err := s.connectors.Get(ctx, d.ConnectorID, ownerID)
	if err != nil {
		return nil, err
	}
	capability, err := s.connectors.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := capability.Close(); err != nil {
			s.logger.Warn("Failed to close connector", zap.Error(err))
		}
	}()

	sample, err := capability.ReadSample(ctx, d.SourcePath, limit)
	if err != nil {
		return nil, apperrors.Backend("preview "+d.SourcePath, err)
	}
	s.cache.Set(ctx, key, sample)

	preview.Sample = sample
	return preview, nil
}

func (s *datasetService) Describe(ctx context.Context, id int64, ownerID uuid.UUID, llmConfigID int64) (*models.ChatResponse, error) {
	if s.chat == nil {
		return nil, apperrors.NewValidationError("llm_id", "no language model is configured")
	}
	d, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	prompt := prompts.BuildDatasetDescriptionPrompt(d, d.Transformations)
	return s.chat.Chat(ctx, llmConfigID, ownerID, &models.ChatRequest{
		Messages: []models.ChatMessage{{Role: llm.RoleUser, Content: prompt}},
		Template: prompts.TemplateAnalyst,
	})
}
