package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// ConnectorSecrets holds the encrypted credential columns of a connector.
// Encryption and decryption are handled by the service layer.
type ConnectorSecrets struct {
	Details string
	URI     string
}

// ConnectorRepository defines data access for connectors.
type ConnectorRepository interface {
	// Create inserts a connector. Returns ErrConflict if the owner already has one with the same name.
	Create(ctx context.Context, c *models.Connector, secrets ConnectorSecrets) error

	// GetByID returns the connector and its encrypted credentials regardless of owner.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, ConnectorSecrets, error)

	// List returns the owner's connectors ordered by creation. An empty
	// connectorType returns both directions.
	List(ctx context.Context, userID uuid.UUID, connectorType string) ([]*models.Connector, []ConnectorSecrets, error)

	// Update rewrites every mutable column.
	Update(ctx context.Context, c *models.Connector, secrets ConnectorSecrets) error

	// Delete removes the connector together with its datasets and their
	// transformations. Returns the number of datasets removed.
	Delete(ctx context.Context, id uuid.UUID) (int64, error)
}

type connectorRepository struct{}

// NewConnectorRepository creates a new connector repository.
func NewConnectorRepository() ConnectorRepository {
	return &connectorRepository{}
}

var _ ConnectorRepository = (*connectorRepository)(nil)

const connectorColumns = `id, user_id, name, description, type, connector_type, file_path,
	connection_details, connection_uri, created_at, updated_at`

func scanConnector(row pgx.Row) (*models.Connector, ConnectorSecrets, error) {
	var c models.Connector
	var s ConnectorSecrets
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.Type, &c.ConnectorType, &c.FilePath,
		&s.Details, &s.URI, &c.CreatedAt, &c.UpdatedAt)
	return &c, s, err
}

func (r *connectorRepository) Create(ctx context.Context, c *models.Connector, secrets ConnectorSecrets) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx, `
		INSERT INTO connectors (id, user_id, name, description, type, connector_type, file_path,
			connection_details, connection_uri, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.UserID, c.Name, c.Description, c.Type, c.ConnectorType, c.FilePath,
		secrets.Details, secrets.URI, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create connector: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *connectorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, ConnectorSecrets, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, ConnectorSecrets{}, err
	}

	c, s, err := scanConnector(scope.Conn.QueryRow(ctx,
		`SELECT `+connectorColumns+` FROM connectors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ConnectorSecrets{}, apperrors.NotFound("connector", id.String())
		}
		return nil, ConnectorSecrets{}, fmt.Errorf("failed to get connector: %w", err)
	}
	return c, s, nil
}

func (r *connectorRepository) List(ctx context.Context, userID uuid.UUID, connectorType string) ([]*models.Connector, []ConnectorSecrets, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+connectorColumns+`
		FROM connectors
		WHERE user_id = $1 AND ($2 = '' OR connector_type = $2)
		ORDER BY created_at, id`, userID, connectorType)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	defer rows.Close()

	connectors := make([]*models.Connector, 0)
	secrets := make([]ConnectorSecrets, 0)
	for rows.Next() {
		c, s, err := scanConnector(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan connector: %w", err)
		}
		connectors = append(connectors, c)
		secrets = append(secrets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating connectors: %w", err)
	}
	return connectors, secrets, nil
}

func (r *connectorRepository) Update(ctx context.Context, c *models.Connector, secrets ConnectorSecrets) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	c.UpdatedAt = time.Now().UTC()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `
		UPDATE connectors
		SET name = $2, description = $3, connector_type = $4, file_path = $5,
		    connection_details = $6, connection_uri = $7, updated_at = $8
		WHERE id = $1`,
		c.ID, c.Name, c.Description, c.ConnectorType, c.FilePath, secrets.Details, secrets.URI, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update connector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("connector", c.ID.String())
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *connectorRepository) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if _, err := tx.Exec(ctx, `
		DELETE FROM transformations
		WHERE dataset_id IN (SELECT id FROM datasets WHERE connector_id = $1)`, id); err != nil {
		return 0, fmt.Errorf("failed to delete transformations: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM datasets WHERE connector_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete datasets: %w", err)
	}
	datasets := tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete connector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, apperrors.NotFound("connector", id.String())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return datasets, nil
}
