package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

// QueryColumns scans (name, native type, nullable) rows into column profiles.
func QueryColumns(ctx context.Context, db *sql.DB, query string, args ...any) ([]models.ColumnProfile, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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
		col.Type = GenericType(col.NativeType)
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}

// QueryStrings scans a single string column.
func QueryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// QueryForeignKeys scans (column, referenced table, referenced column) rows.
func QueryForeignKeys(ctx context.Context, db *sql.DB, query string, args ...any) ([]models.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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
	return fks, rows.Err()
}

// QueryTables scans (schema, table) rows into source entries.
func QueryTables(ctx context.Context, db *sql.DB, query string, args ...any) ([]models.SourceEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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

// QueryEstimate scans a nullable integer estimate. A NULL or negative value is
// reported as unavailable.
func QueryEstimate(ctx context.Context, db *sql.DB, query string, args ...any) (int64, bool, error) {
	var n sql.NullInt64
	err := db.QueryRowContext(ctx, query, args...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("estimate row count: %w", err)
	}
	if !n.Valid || n.Int64 < 0 {
		return 0, false, nil
	}
	return n.Int64, true, nil
}

// TxExists runs a boolean existence query inside tx.
func TxExists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
