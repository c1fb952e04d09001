package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/datasaki/datasaki-engine/pkg/database"
)

var errNoScope = errors.New("no database scope in context")

func scopeFrom(ctx context.Context) (*database.Scope, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, errNoScope
	}
	return scope, nil
}

// isUniqueViolation reports PostgreSQL error 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Page bounds a listing.
type Page struct {
	Skip  int
	Limit int
}

func (p Page) validate() error {
	if p.Skip < 0 || p.Limit < 1 {
		return fmt.Errorf("invalid page skip=%d limit=%d", p.Skip, p.Limit)
	}
	return nil
}
