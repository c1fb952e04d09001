package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// CapabilityOpener builds backend capabilities for stored connectors.
// ConnectorService satisfies it.
type CapabilityOpener interface {
	Open(ctx context.Context, c *models.Connector) (connector.Capability, error)
	Family(connectorType string) (connector.Family, bool)
}

// SchemaInferrer samples a connector's source and returns its schema. It
// persists nothing.
type SchemaInferrer interface {
	Infer(ctx context.Context, c *models.Connector, sourceType, sourcePath string) (*models.SchemaSnapshot, error)
}

type schemaInferrer struct {
	opener  CapabilityOpener
	limit   int
	timeout time.Duration
	logger  *zap.Logger
}

// NewSchemaInferrer creates a SchemaInferrer. File-like sources are read up to
// cfg.SampleRows rows.
func NewSchemaInferrer(opener CapabilityOpener, cfg config.ConnectorsConfig, logger *zap.Logger) SchemaInferrer {
	limit := cfg.SampleRows
	if limit <= 0 {
		limit = connector.DefaultSampleLimit
	}
	return &schemaInferrer{
		opener:  opener,
		limit:   limit,
		timeout: cfg.InferTimeout,
		logger:  logger.Named("schema-inference"),
	}
}

var _ SchemaInferrer = (*schemaInferrer)(nil)

// familiesBySourceType lists which backend families can serve each dataset source type.
// api and stream have no backend.
var familiesBySourceType = map[string][]connector.Family{
	models.SourceTypeFile:     {connector.FamilyFile, connector.FamilyCloud},
	models.SourceTypeDatabase: {connector.FamilyDatabase},
}

// checkCompatible rejects source types the connector's family cannot serve.
func checkCompatible(sourceType string, family connector.Family) error {
	if !models.IsValidSourceType(sourceType) {
		return apperrors.NewValidationError("source_type", fmt.Sprintf("unknown source type %q", sourceType))
	}
	for _, f := range familiesBySourceType[sourceType] {
		if f == family {
			return nil
		}
	}
	return apperrors.NewValidationError("source_type",
		fmt.Sprintf("unsupported source type %q for %s connectors", sourceType, family))
}

func (s *schemaInferrer) Infer(ctx context.Context, c *models.Connector, sourceType, sourcePath string) (*models.SchemaSnapshot, error) {
	family, ok := s.opener.Family(c.Type)
	if !ok {
		return nil, apperrors.NewValidationError("type", fmt.Sprintf("unsupported connector type %q", c.Type))
	}
	if err := checkCompatible(sourceType, family); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	capability, err := s.opener.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := capability.Close(); err != nil {
			s.logger.Warn("Failed to close connector", zap.Error(err))
		}
	}()

	start := time.Now()
	snap, err := capability.InferSchema(ctx, sourcePath, s.limit)
	if err != nil {
		return nil, apperrors.Backend("infer schema", err)
	}

	s.logger.Debug("Schema inferred",
		zap.String("connector_id", c.ID.String()),
		zap.String("source", sourcePath),
		zap.String("kind", snap.Kind),
		zap.Int("columns", len(snap.Columns)),
		zap.Int("sampled_rows", snap.SampledRows),
		zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}
