package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Scope is one unit of work: a pooled connection held for the duration of a
// request or operation. The connection carries app.current_user_id so that
// database-side defaults and audit triggers can attribute writes.
type Scope struct {
	Conn *pgxpool.Conn
}

// Close resets the session user and releases the connection to the pool.
// Safe to call more than once.
func (s *Scope) Close() {
	if s == nil || s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_user_id")
	s.Conn.Release()
	s.Conn = nil
}

// WithUser acquires a connection attributed to userID.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) WithUser(ctx context.Context, userID string) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_user_id', $1, false)", userID); err != nil {
		conn.Release()
		return nil, err
	}

	return &Scope{Conn: conn}, nil
}

// WithoutUser acquires a connection for unauthenticated work (registration, login).
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) WithoutUser(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Scope{Conn: conn}, nil
}
