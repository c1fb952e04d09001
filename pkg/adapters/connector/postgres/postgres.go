// Package postgres implements the PostgreSQL connector capability.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

var types = connector.PortableTypes("BIGINT", "DOUBLE PRECISION", "BOOLEAN", "DATE", "TIMESTAMPTZ", "TEXT")

// Registration describes the postgres connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+, Aurora PostgreSQL, Supabase",
			Family:      connector.FamilyDatabase,
			Writable:    true,
		},
		Open:     Open,
		Validate: connector.ValidatePort,
	}
}

// Capability talks to one PostgreSQL database through a small private pool.
type Capability struct {
	cfg    *Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open parses params and creates the pool. No connection is made until first use.
func Open(ctx context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	cfg, err := FromParams(p)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Capability{cfg: cfg, pool: pool, logger: logger}, nil
}

// TestConnection pings the server and verifies the connected database name.
func (c *Capability) TestConnection(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var current string
	if err := c.pool.QueryRow(ctx, "SELECT current_database()").Scan(&current); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	if c.cfg.Database != "" && !strings.EqualFold(current, c.cfg.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", c.cfg.Database, current)
	}
	return nil
}

func (c *Capability) split(source string) (string, string) {
	schema, table := connector.SplitQualified(source)
	if schema == "" {
		schema = c.cfg.Schema
	}
	return schema, table
}

// ReadSample selects the first limit rows of a table.
func (c *Capability) ReadSample(ctx context.Context, source string, limit int) (*models.Sample, error) {
	if err := connector.ValidateIdentifier("source_path", source); err != nil {
		return nil, err
	}
	schema, table := c.split(source)
	query := fmt.Sprintf("SELECT * FROM %s LIMIT $1", pgx.Identifier{schema, table}.Sanitize())

	rows, err := c.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sample: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	sample := &models.Sample{Source: source, Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = vals[i]
		}
		sample.Rows = append(sample.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	sample.Truncated = len(sample.Rows) >= limit
	return sample, nil
}

// InferSchema introspects a table's columns, keys and estimated row count.
func (c *Capability) InferSchema(ctx context.Context, source string, _ int) (*models.SchemaSnapshot, error) {
	if err := connector.ValidateIdentifier("source_path", source); err != nil {
		return nil, err
	}
	schema, table := c.split(source)

	cols, err := c.columns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, apperrors.NotFound("table", source)
	}
	pks, err := c.primaryKeys(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	fks, err := c.foreignKeys(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	count, err := c.rowCount(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	return connector.TableSnapshot(cols, pks, fks, count), nil
}

func (c *Capability) columns(ctx context.Context, schema, table string) ([]models.ColumnProfile, error) {
	const query = `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := c.pool.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var cols []models.ColumnProfile
	for rows.Next() {
		var col models.ColumnProfile
		if err := rows.Scan(&col.Name, &col.NativeType, &col.Nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.Type = connector.GenericType(col.NativeType)
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}

func (c *Capability) primaryKeys(ctx context.Context, schema, table string) ([]string, error) {
	const query = `
		SELECT a.attname
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary AND n.nspname = $1 AND t.relname = $2
		ORDER BY array_position(ix.indkey, a.attnum)`

	rows, err := c.pool.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query primary keys: %w", err)
	}
	pks, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan primary keys: %w", err)
	}
	return pks, nil
}

func (c *Capability) foreignKeys(ctx context.Context, schema, table string) ([]models.ForeignKey, error) {
	const query = `
		SELECT kcu.column_name, ccu.table_schema || '.' || ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`

	rows, err := c.pool.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []models.ForeignKey
	for rows.Next() {
		var fk models.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

// rowCount prefers the planner estimate and falls back to COUNT(*) for
// tables that were never analyzed.
func (c *Capability) rowCount(ctx context.Context, schema, table string) (int64, error) {
	const estimate = `
		SELECT c.reltuples::bigint
		FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`

	var n int64
	err := c.pool.QueryRow(ctx, estimate, schema, table).Scan(&n)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("estimate row count: %w", err)
	}
	if err == nil && n >= 0 {
		return n, nil
	}
	query := "SELECT COUNT(*) FROM " + pgx.Identifier{schema, table}.Sanitize()
	if err := c.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// WriteRows optionally creates the table, then loads every row with one COPY.
func (c *Capability) WriteRows(ctx context.Context, req connector.WriteRequest) (*models.WriteResult, error) {
	if err := req.ValidateSQL(); err != nil {
		return nil, err
	}
	schema, table := c.split(req.Table)
	ident := pgx.Identifier{schema, table}
	columns := req.Columns()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", ident.Sanitize()).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check table: %w", err)
	}

	created := false
	if !exists && len(req.Schema) > 0 {
		ddl, err := types.ColumnDDL(req, func(s string) string { return pgx.Identifier{s}.Sanitize() })
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", ident.Sanitize(), ddl)); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
		created = true
	}

	values := make([][]any, len(req.Rows))
	for i, row := range req.Rows {
		vals := make([]any, len(columns))
		for j, col := range columns {
			vals[j] = row[col]
		}
		values[i] = vals
	}
	n, err := tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(values))
	if err != nil {
		return nil, fmt.Errorf("copy rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	c.logger.Info("Copied rows into postgres",
		zap.String("table", req.Table),
		zap.Int64("rows", n),
		zap.Bool("created", created))
	return &models.WriteResult{Table: req.Table, RowsWritten: n, Created: created}, nil
}

// ListSources lists user tables outside the system schemas.
func (c *Capability) ListSources(ctx context.Context) ([]models.SourceEntry, error) {
	const query = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY table_schema, table_name`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	out := []models.SourceEntry{}
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, models.SourceEntry{Name: table, Path: schema + "." + table})
	}
	return out, rows.Err()
}

// Close shuts the private pool.
func (c *Capability) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

var (
	_ connector.Capability   = (*Capability)(nil)
	_ connector.SourceLister = (*Capability)(nil)
)
