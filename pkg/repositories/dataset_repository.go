package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// DatasetRepository defines data access for datasets and their transformations.
type DatasetRepository interface {
	// Create inserts a dataset. Returns ErrConflict on a duplicate name for the owner.
	Create(ctx context.Context, d *models.Dataset) error

	// GetByID returns the dataset without transformations, regardless of owner.
	GetByID(ctx context.Context, id int64) (*models.Dataset, error)

	// List returns one page of the owner's datasets ordered by id, plus the total match count.
	List(ctx context.Context, userID uuid.UUID, filter models.DatasetFilter) (*models.DatasetPage, error)

	// Update rewrites name, description and metadata.
	Update(ctx context.Context, d *models.Dataset) error

	// UpdateSchema replaces schema_info.
	UpdateSchema(ctx context.Context, id int64, snap *models.SchemaSnapshot) (time.Time, error)

	// Delete removes the dataset and its transformations in one transaction.
	Delete(ctx context.Context, id int64) error

	AddTransformation(ctx context.Context, t *models.Transformation) error

	// ListTransformations returns the chain ordered by "order", then id.
	ListTransformations(ctx context.Context, datasetID int64) ([]*models.Transformation, error)

	DeleteTransformation(ctx context.Context, datasetID, id int64) error
}

type datasetRepository struct{}

// NewDatasetRepository creates a new dataset repository.
func NewDatasetRepository() DatasetRepository {
	return &datasetRepository{}
}

var _ DatasetRepository = (*datasetRepository)(nil)

const datasetColumns = `id, user_id, connector_id, name, description, source_type, source_path,
	schema_info, dataset_metadata, created_at, updated_at`

func scanDataset(row pgx.Row) (*models.Dataset, error) {
	var d models.Dataset
	var schemaJSON, metaJSON []byte
	if err := row.Scan(&d.ID, &d.UserID, &d.ConnectorID, &d.Name, &d.Description, &d.SourceType, &d.SourcePath,
		&schemaJSON, &metaJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if len(schemaJSON) > 0 && string(schemaJSON) != "{}" {
		d.SchemaInfo = &models.SchemaSnapshot{}
		if err := json.Unmarshal(schemaJSON, d.SchemaInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema_info: %w", err)
		}
	}
	d.Metadata = map[string]any{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &d.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dataset_metadata: %w", err)
		}
	}
	return &d, nil
}

// marshalObject encodes v for a NOT NULL jsonb object column; nil becomes {}.
func marshalObject(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("{}"), nil
	case map[string]any:
		if t == nil {
			return []byte("{}"), nil
		}
	case *models.SchemaSnapshot:
		if t == nil {
			return []byte("{}"), nil
		}
	}
	return json.Marshal(v)
}

func (r *datasetRepository) Create(ctx context.Context, d *models.Dataset) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	schemaJSON, err := json.Marshal(d.SchemaInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal schema_info: %w", err)
	}
	if d.SchemaInfo == nil {
		schemaJSON = []byte("{}")
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset_metadata: %w", err)
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	err = tx.QueryRow(ctx, `
		INSERT INTO datasets (user_id, connector_id, name, description, source_type, source_path,
			schema_info, dataset_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		d.UserID, d.ConnectorID, d.Name, d.Description, d.SourceType, d.SourcePath,
		schemaJSON, metaJSON, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *datasetRepository) GetByID(ctx context.Context, id int64) (*models.Dataset, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	d, err := scanDataset(scope.Conn.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("dataset", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return d, nil
}

// likePattern escapes LIKE wildcards so search is a literal substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func (r *datasetRepository) List(ctx context.Context, userID uuid.UUID, filter models.DatasetFilter) (*models.DatasetPage, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := (Page{Skip: filter.Skip, Limit: filter.Limit}).validate(); err != nil {
		return nil, err
	}

	where := `user_id = $1
		AND ($2 = '' OR name ILIKE $3 ESCAPE '\')
		AND ($4 = '' OR source_type = $4)`
	args := []any{userID, filter.Search, likePattern(filter.Search), filter.SourceType}

	// Count and page share one snapshot so the total matches the items.
	tx, err := scope.Conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	page := &models.DatasetPage{Items: make([]*models.Dataset, 0)}
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM datasets WHERE `+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count datasets: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+datasetColumns+`
		FROM datasets
		WHERE `+where+`
		ORDER BY id
		OFFSET $5 LIMIT $6`, append(args, filter.Skip, filter.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		page.Items = append(page.Items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return page, nil
}

func (r *datasetRepository) Update(ctx context.Context, d *models.Dataset) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	metaJSON, err := marshalObject(d.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset_metadata: %w", err)
	}
	d.UpdatedAt = time.Now().UTC()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `
		UPDATE datasets SET name = $2, description = $3, dataset_metadata = $4, updated_at = $5
		WHERE id = $1`, d.ID, d.Name, d.Description, metaJSON, d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("dataset", strconv.FormatInt(d.ID, 10))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *datasetRepository) UpdateSchema(ctx context.Context, id int64, snap *models.SchemaSnapshot) (time.Time, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return time.Time{}, err
	}

	schemaJSON, err := marshalObject(snap)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal schema_info: %w", err)
	}
	now := time.Now().UTC()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `UPDATE datasets SET schema_info = $2, updated_at = $3 WHERE id = $1`, id, schemaJSON, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update schema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return time.Time{}, apperrors.NotFound("dataset", strconv.FormatInt(id, 10))
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return now, nil
}

func (r *datasetRepository) Delete(ctx context.Context, id int64) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if _, err := tx.Exec(ctx, `DELETE FROM transformations WHERE dataset_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transformations: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("dataset", strconv.FormatInt(id, 10))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *datasetRepository) AddTransformation(ctx context.Context, t *models.Transformation) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	if t.Config == nil {
		t.Config = map[string]any{}
	}
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	err = tx.QueryRow(ctx, `
		INSERT INTO transformations (dataset_id, name, type, config, "order", created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		t.DatasetID, t.Name, t.Type, configJSON, t.Order, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create transformation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *datasetRepository) ListTransformations(ctx context.Context, datasetID int64) ([]*models.Transformation, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, dataset_id, name, type, config, "order", created_at, updated_at
		FROM transformations
		WHERE dataset_id = $1
		ORDER BY "order", id`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transformations: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Transformation, 0)
	for rows.Next() {
		var t models.Transformation
		var configJSON []byte
		if err := rows.Scan(&t.ID, &t.DatasetID, &t.Name, &t.Type, &configJSON, &t.Order, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transformation: %w", err)
		}
		t.Config = map[string]any{}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &t.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transformations: %w", err)
	}
	return out, nil
}

func (r *datasetRepository) DeleteTransformation(ctx context.Context, datasetID, id int64) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `DELETE FROM transformations WHERE dataset_id = $1 AND id = $2`, datasetID, id)
	if err != nil {
		return fmt.Errorf("failed to delete transformation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("transformation", strconv.FormatInt(id, 10))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
