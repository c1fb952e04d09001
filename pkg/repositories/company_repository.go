package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// CompanyRepository defines data access for companies.
type CompanyRepository interface {
	// Create inserts a company. Returns ErrConflict on a duplicate name or domain.
	Create(ctx context.Context, c *models.Company) error
	// GetByName and GetByDomain match case-insensitively.
	GetByName(ctx context.Context, name string) (*models.Company, error)
	GetByDomain(ctx context.Context, domain string) (*models.Company, error)
}

type companyRepository struct{}

// NewCompanyRepository creates a new company repository.
func NewCompanyRepository() CompanyRepository {
	return &companyRepository{}
}

var _ CompanyRepository = (*companyRepository)(nil)

func (r *companyRepository) Create(ctx context.Context, c *models.Company) error {
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

	var domain *string
	if c.Domain != "" {
		d := strings.ToLower(c.Domain)
		domain = &d
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx, `
		INSERT INTO companies (id, name, domain, industry, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, domain, c.Industry, c.Size, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create company: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *companyRepository) get(ctx context.Context, where, arg string) (*models.Company, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	var c models.Company
	var domain *string
	err = scope.Conn.QueryRow(ctx, `
		SELECT id, name, domain, industry, size, created_at, updated_at
		FROM companies WHERE `+where, arg).
		Scan(&c.ID, &c.Name, &domain, &c.Industry, &c.Size, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("company", arg)
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	if domain != nil {
		c.Domain = *domain
	}
	return &c, nil
}

func (r *companyRepository) GetByName(ctx context.Context, name string) (*models.Company, error) {
	return r.get(ctx, "lower(name) = lower($1)", name)
}

func (r *companyRepository) GetByDomain(ctx context.Context, domain string) (*models.Company, error) {
	return r.get(ctx, "lower(domain) = lower($1)", domain)
}
