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

// UserRepository defines data access for user accounts.
type UserRepository interface {
	// Create inserts a user. Returns ErrConflict when the email is taken.
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// UpdateGoogleProfile marks the account as Google-linked and refreshes name and picture.
	UpdateGoogleProfile(ctx context.Context, id uuid.UUID, name, picture string) error
}

type userRepository struct{}

// NewUserRepository creates a new user repository.
func NewUserRepository() UserRepository {
	return &userRepository{}
}

var _ UserRepository = (*userRepository)(nil)

const userColumns = `id, email, name, picture, COALESCE(password_hash, ''), is_active, is_google_auth,
	company_id, roles, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Picture, &u.PasswordHash, &u.IsActive, &u.IsGoogleAuth,
		&u.CompanyID, &u.Roles, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if len(user.Roles) == 0 {
		user.Roles = []string{models.RoleUser}
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	var hash *string
	if user.PasswordHash != "" {
		hash = &user.PasswordHash
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, name, picture, password_hash, is_active, is_google_auth,
			company_id, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID, strings.ToLower(user.Email), user.Name, user.Picture, hash, user.IsActive, user.IsGoogleAuth,
		user.CompanyID, user.Roles, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	user.Email = strings.ToLower(user.Email)
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	u, err := scanUser(scope.Conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("user", id.String())
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	u, err := scanUser(scope.Conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("user", email)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *userRepository) UpdateGoogleProfile(ctx context.Context, id uuid.UUID, name, picture string) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET is_google_auth = TRUE,
		    name = CASE WHEN $2 = '' THEN name ELSE $2 END,
		    picture = CASE WHEN $3 = '' THEN picture ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $1`, id, name, picture)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("user", id.String())
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
