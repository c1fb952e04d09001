package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/crypto"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// LLMConfigRepository defines data access for users' LLM configurations.
// API keys are encrypted before storage and decrypted after retrieval.
type LLMConfigRepository interface {
	// Create inserts a configuration. Returns ErrConflict on a duplicate name for the owner.
	Create(ctx context.Context, cfg *models.LLMConfig) error
	// GetByID returns the configuration regardless of owner, with the API key decrypted.
	GetByID(ctx context.Context, id int64) (*models.LLMConfig, error)
	// List returns one page of the owner's configurations ordered by id and the total count.
	List(ctx context.Context, userID uuid.UUID, page Page) ([]*models.LLMConfig, int64, error)
	Update(ctx context.Context, cfg *models.LLMConfig) error
	Delete(ctx context.Context, id int64) error
}

type llmConfigRepository struct {
	secrets *crypto.SecretBox
}

// NewLLMConfigRepository creates a new LLM configuration repository.
func NewLLMConfigRepository(secrets *crypto.SecretBox) LLMConfigRepository {
	return &llmConfigRepository{secrets: secrets}
}

var _ LLMConfigRepository = (*llmConfigRepository)(nil)

const llmConfigColumns = `id, user_id, name, provider, model, api_key, config, created_at, updated_at`

func (r *llmConfigRepository) scan(row pgx.Row) (*models.LLMConfig, error) {
	var c models.LLMConfig
	var sealed string
	var configJSON []byte
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Provider, &c.Model, &sealed, &configJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	key, err := r.secrets.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}
	c.APIKey = key
	c.HasAPIKey = key != ""
	c.Config = map[string]any{}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return &c, nil
}

func (r *llmConfigRepository) Create(ctx context.Context, cfg *models.LLMConfig) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	sealed, err := r.secrets.Seal(cfg.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	configJSON, err := marshalObject(cfg.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cfg.HasAPIKey = cfg.APIKey != ""

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	err = tx.QueryRow(ctx, `
		INSERT INTO llm_configs (user_id, name, provider, model, api_key, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		cfg.UserID, cfg.Name, cfg.Provider, cfg.Model, sealed, configJSON, cfg.CreatedAt, cfg.UpdatedAt,
	).Scan(&cfg.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create llm config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *llmConfigRepository) GetByID(ctx context.Context, id int64) (*models.LLMConfig, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	c, err := r.scan(scope.Conn.QueryRow(ctx, `SELECT `+llmConfigColumns+` FROM llm_configs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("llm config", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("failed to get llm config: %w", err)
	}
	return c, nil
}

func (r *llmConfigRepository) List(ctx context.Context, userID uuid.UUID, page Page) ([]*models.LLMConfig, int64, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := page.validate(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := scope.Conn.QueryRow(ctx, `SELECT COUNT(*) FROM llm_configs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count llm configs: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+llmConfigColumns+`
		FROM llm_configs
		WHERE user_id = $1
		ORDER BY id
		OFFSET $2 LIMIT $3`, userID, page.Skip, page.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list llm configs: %w", err)
	}
	defer rows.Close()

	out := make([]*models.LLMConfig, 0)
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan llm config: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating llm configs: %w", err)
	}
	return out, total, nil
}

func (r *llmConfigRepository) Update(ctx context.Context, cfg *models.LLMConfig) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	sealed, err := r.secrets.Seal(cfg.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	configJSON, err := marshalObject(cfg.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	cfg.UpdatedAt = time.Now().UTC()
	cfg.HasAPIKey = cfg.APIKey != ""

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `
		UPDATE llm_configs SET name = $2, model = $3, api_key = $4, config = $5, updated_at = $6
		WHERE id = $1`, cfg.ID, cfg.Name, cfg.Model, sealed, configJSON, cfg.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update llm config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("llm config", strconv.FormatInt(cfg.ID, 10))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *llmConfigRepository) Delete(ctx context.Context, id int64) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `DELETE FROM llm_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete llm config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("llm config", strconv.FormatInt(id, 10))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
