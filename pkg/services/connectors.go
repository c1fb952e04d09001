package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/audit"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/crypto"
	"github.com/datasaki/datasaki-engine/pkg/logging"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
)

// ConnectorService manages connectors and dispatches operations to their backends.
type ConnectorService interface {
	// Create validates and stores a connector owned by ownerID.
	Create(ctx context.Context, ownerID uuid.UUID, c *models.Connector) (*models.Connector, error)

	// Get returns the connector with decrypted credentials. ErrNotFound when
	// it does not exist, ErrForbidden when another user owns it.
	Get(ctx context.Context, id, ownerID uuid.UUID) (*models.Connector, error)

	// List returns the owner's connectors, optionally filtered by direction.
	List(ctx context.Context, ownerID uuid.UUID, connectorType string) ([]*models.Connector, error)

	// Update applies a partial change and re-validates the merged record.
	Update(ctx context.Context, id, ownerID uuid.UUID, upd *models.ConnectorUpdate) (*models.Connector, error)

	// Delete removes the connector and every dataset built on it.
	Delete(ctx context.Context, id, ownerID uuid.UUID) error

	// Test probes the backend. Backend failures are reported in the result;
	// only ownership and lookup failures are returned as errors.
	Test(ctx context.Context, id, ownerID uuid.UUID) (*models.ConnectionTestResult, error)

	// Write inserts rows through a destination connector.
	Write(ctx context.Context, id, ownerID uuid.UUID, req connector.WriteRequest) (*models.WriteResult, error)

	// Read returns a capped sample for each source.
	Read(ctx context.Context, id, ownerID uuid.UUID, sources []string, limit int) ([]*models.Sample, error)

	// ListSources enumerates what the connector can read.
	ListSources(ctx context.Context, id, ownerID uuid.UUID) ([]models.SourceEntry, error)

	// ListTypes describes every registered connector type.
	ListTypes() []connector.Info

	// Open builds the capability for a connector returned by Get.
	// The caller must close it.
	Open(ctx context.Context, c *models.Connector) (connector.Capability, error)

	// Family returns the backend family of a connector type.
	Family(connectorType string) (connector.Family, bool)
}

type connectorService struct {
	repo     repositories.ConnectorRepository
	registry *connector.Registry
	secrets  *crypto.SecretBox
	cfg      config.ConnectorsConfig
	activity audit.ActivityRecorder
	auditor  *audit.SecurityAuditor
	logger   *zap.Logger
}

// NewConnectorService creates a ConnectorService.
func NewConnectorService(
	repo repositories.ConnectorRepository,
	registry *connector.Registry,
	secrets *crypto.SecretBox,
	cfg config.ConnectorsConfig,
	activity audit.ActivityRecorder,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) ConnectorService {
	return &connectorService{
		repo:     repo,
		registry: registry,
		secrets:  secrets,
		cfg:      cfg,
		activity: activity,
		auditor:  auditor,
		logger:   logger.Named("connector-service"),
	}
}

var _ ConnectorService = (*connectorService)(nil)

func params(c *models.Connector) connector.Params {
	return connector.Params{
		Type:     c.Type,
		FilePath: c.FilePath,
		Details:  c.ConnectionDetails,
		URI:      c.ConnectionURI,
	}
}

// validate applies the rules shared by Create and Update.
func (s *connectorService) validate(c *models.Connector) error {
	if strings.TrimSpace(c.Name) == "" {
		return apperrors.MissingField("name")
	}
	if !models.IsValidConnectorType(c.ConnectorType) {
		return apperrors.NewValidationError("connector_type", "must be 'source' or 'destination'")
	}
	return s.registry.Validate(params(c))
}

func (s *connectorService) seal(c *models.Connector) (repositories.ConnectorSecrets, error) {
	details, err := s.secrets.SealMap(c.ConnectionDetails)
	if err != nil {
		return repositories.ConnectorSecrets{}, fmt.Errorf("failed to encrypt connection details: %w", err)
	}
	uri, err := s.secrets.Seal(c.ConnectionURI)
	if err != nil {
		return repositories.ConnectorSecrets{}, fmt.Errorf("failed to encrypt connection uri: %w", err)
	}
	return repositories.ConnectorSecrets{Details: details, URI: uri}, nil
}

func (s *connectorService) unseal(c *models.Connector, sealed repositories.ConnectorSecrets) error {
	details, err := s.secrets.OpenMap(sealed.Details)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return fmt.Errorf("connector %s: %w", c.ID, apperrors.ErrCredentialsKeyMismatch)
		}
		return err
	}
	uri, err := s.secrets.Open(sealed.URI)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return fmt.Errorf("connector %s: %w", c.ID, apperrors.ErrCredentialsKeyMismatch)
		}
		return err
	}
	c.ConnectionDetails = details
	c.ConnectionURI = uri
	return nil
}

func (s *connectorService) Create(ctx context.Context, ownerID uuid.UUID, c *models.Connector) (*models.Connector, error) {
	c.Name = strings.TrimSpace(c.Name)
	if err := s.validate(c); err != nil {
		return nil, err
	}

	sealed, err := s.seal(c)
	if err != nil {
		return nil, err
	}

	c.ID = uuid.New()
	c.UserID = ownerID
	if err := s.repo.Create(ctx, c, sealed); err != nil {
		return nil, err
	}

	s.logger.Info("Connector created",
		zap.String("connector_id", c.ID.String()),
		zap.String("type", c.Type),
		zap.String("connector_type", c.ConnectorType))
	s.activity.Record(ctx, models.ActionConnectorCreate, &ownerID, map[string]any{
		"connector_id": c.ID.String(),
		"type":         c.Type,
	})
	return c, nil
}

// owned loads a connector and checks it belongs to ownerID.
func (s *connectorService) owned(ctx context.Context, id, ownerID uuid.UUID, op string) (*models.Connector, error) {
	c, sealed, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != ownerID {
		s.auditor.LogAccessDenied(ctx, audit.AccessDetails{Resource: "connector", ResourceID: id.String(), Operation: op})
		return nil, fmt.Errorf("connector %s: %w", id, apperrors.ErrForbidden)
	}
	if err := s.unseal(c, sealed); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *connectorService) Get(ctx context.Context, id, ownerID uuid.UUID) (*models.Connector, error) {
	return s.owned(ctx, id, ownerID, "get")
}

func (s *connectorService) List(ctx context.Context, ownerID uuid.UUID, connectorType string) ([]*models.Connector, error) {
	if connectorType != "" && !models.IsValidConnectorType(connectorType) {
		return nil, apperrors.NewValidationError("connector_type", "must be 'source' or 'destination'")
	}
	connectors, sealed, err := s.repo.List(ctx, ownerID, connectorType)
	if err != nil {
		return nil, err
	}
	for i, c := range connectors {
		if err := s.unseal(c, sealed[i]); err != nil {
			return nil, err
		}
	}
	return connectors, nil
}

func (s *connectorService) Update(ctx context.Context, id, ownerID uuid.UUID, upd *models.ConnectorUpdate) (*models.Connector, error) {
	c, err := s.owned(ctx, id, ownerID, "update")
	if err != nil {
		return nil, err
	}

	if upd.Type != nil && *upd.Type != c.Type {
		return nil, apperrors.NewValidationError("type", "cannot be changed after creation")
	}
	if upd.Name != nil {
		c.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		c.Description = *upd.Description
	}
	if upd.ConnectorType != nil {
		c.ConnectorType = *upd.ConnectorType
	}
	if upd.FilePath != nil {
		c.FilePath = *upd.FilePath
	}
	if upd.ConnectionDetails != nil {
		c.ConnectionDetails = upd.ConnectionDetails
	}
	if upd.ConnectionURI != nil {
		c.ConnectionURI = *upd.ConnectionURI
	}

	if err := s.validate(c); err != nil {
		return nil, err
	}
	sealed, err := s.seal(c)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c, sealed); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *connectorService) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	if _, err := s.owned(ctx, id, ownerID, "delete"); err != nil {
		return err
	}
	datasets, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}

	s.logger.Info("Connector deleted",
		zap.String("connector_id", id.String()),
		zap.Int64("datasets_removed", datasets))
	s.activity.Record(ctx, models.ActionConnectorDelete, &ownerID, map[string]any{
		"connector_id":     id.String(),
		"datasets_removed": datasets,
	})
	return nil
}

func (s *connectorService) Open(ctx context.Context, c *models.Connector) (connector.Capability, error) {
	return s.registry.Open(ctx, params(c))
}

func (s *connectorService) Family(connectorType string) (connector.Family, bool) {
	return s.registry.Family(connectorType)
}

func (s *connectorService) ListTypes() []connector.Info {
	return s.registry.Types()
}

func (s *connectorService) Test(ctx context.Context, id, ownerID uuid.UUID) (*models.ConnectionTestResult, error) {
	c, err := s.owned(ctx, id, ownerID, "test")
	if err != nil {
		return nil, err
	}

	result := &models.ConnectionTestResult{Type: c.Type, Operation: "test_connection"}
	start := time.Now()

	ctx, cancel := withTimeout(ctx, s.cfg.TestTimeout)
	defer cancel()

	err = s.probe(ctx, c)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		s.logger.Warn("Connection test failed",
			zap.String("connector_id", id.String()),
			zap.String("type", c.Type),
			zap.String("error", logging.Error(err)))
		result.Message = "Connection failed"
		result.Error = logging.Error(err)
		return result, nil
	}

	result.Success = true
	result.Message = "Connection successful"
	return result, nil
}

func (s *connectorService) probe(ctx context.Context, c *models.Connector) error {
	capability, err := s.Open(ctx, c)
	if err != nil {
		return err
	}
	defer s.closeCapability(capability, c)
	return capability.TestConnection(ctx)
}

func (s *connectorService) Write(ctx context.Context, id, ownerID uuid.UUID, req connector.WriteRequest) (*models.WriteResult, error) {
	c, err := s.owned(ctx, id, ownerID, "write")
	if err != nil {
		return nil, err
	}
	if !c.IsDestination() {
		return nil, apperrors.NewValidationError("connector_type", "source connectors do not accept writes")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	capability, err := s.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.closeCapability(capability, c)

	result, err := capability.WriteRows(ctx, req)
	if err != nil {
		var inj *connector.InjectionError
		if errors.As(err, &inj) {
			s.auditor.LogInjectionAttempt(ctx, id.String(), "write", inj, audit.ClientIPFromContext(ctx))
			return nil, err
		}
		if errors.Is(err, connector.ErrReadOnly) {
			return nil, apperrors.NewValidationError("type", err.Error())
		}
		return nil, apperrors.Backend("write "+c.Type, err)
	}

	s.logger.Info("Rows written",
		zap.String("connector_id", id.String()),
		zap.String("table", result.Table),
		zap.Int64("rows", result.RowsWritten),
		zap.Bool("created", result.Created))
	s.activity.Record(ctx, models.ActionConnectorWrite, &ownerID, map[string]any{
		"connector_id": id.String(),
		"table":        result.Table,
		"rows_written": result.RowsWritten,
	})
	return result, nil
}

func (s *connectorService) Read(ctx context.Context, id, ownerID uuid.UUID, sources []string, limit int) ([]*models.Sample, error) {
	c, err := s.owned(ctx, id, ownerID, "read")
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		if c.FilePath == "" {
			return nil, apperrors.MissingField("sources")
		}
		sources = []string{""}
	}
	limit = clampRows(s.cfg, limit)

	ctx, cancel := withTimeout(ctx, s.cfg.InferTimeout)
	defer cancel()

	capability, err := s.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.closeCapability(capability, c)

	samples := make([]*models.Sample, 0, len(sources))
	for _, source := range sources {
		sample, err := capability.ReadSample(ctx, source, limit)
		if err != nil {
			return nil, apperrors.Backend("read "+source, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *connectorService) ListSources(ctx context.Context, id, ownerID uuid.UUID) ([]models.SourceEntry, error) {
	c, err := s.owned(ctx, id, ownerID, "list_sources")
	if err != nil {
		return nil, err
	}

	capability, err := s.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.closeCapability(capability, c)

	lister, ok := capability.(connector.SourceLister)
	if !ok {
		return nil, apperrors.NewValidationError("type", fmt.Sprintf("%s connectors cannot list sources", c.Type))
	}
	entries, err := lister.ListSources(ctx)
	if err != nil {
		return nil, apperrors.Backend("list sources", err)
	}
	return entries, nil
}

// clampRows bounds a caller-supplied row count to (0, SampleRows]. Zero
// means the configured preview size.
func clampRows(cfg config.ConnectorsConfig, limit int) int {
	maxRows := cfg.SampleRows
	if maxRows <= 0 {
		maxRows = connector.DefaultSampleLimit
	}
	switch {
	case limit <= 0 && cfg.PreviewRows > 0:
		return min(cfg.PreviewRows, maxRows)
	case limit <= 0, limit > maxRows:
		return maxRows
	}
	return limit
}

func (s *connectorService) closeCapability(capability connector.Capability, c *models.Connector) {
	if err := capability.Close(); err != nil {
		s.logger.Warn("Failed to close connector",
			zap.String("connector_id", c.ID.String()),
			zap.String("error", logging.Error(err)))
	}
}

// withTimeout applies d when it is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
