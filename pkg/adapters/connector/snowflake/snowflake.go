// Package snowflake implements the Snowflake connector capability.
//
// Snowflake folds unquoted identifiers to upper case, so the dialect upper
// cases every identifier before quoting it or using it in a catalog lookup.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Registration describes the snowflake connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:           "snowflake",
			DisplayName:    "Snowflake",
			Description:    "Snowflake data warehouse",
			Family:         connector.FamilyDatabase,
			RequiredFields: []string{"account", "user", "password", "database"},
			Writable:       true,
		},
		Open: Open,
	}
}

// DSN builds a gosnowflake DSN. The account identifier replaces host/port.
func DSN(p connector.Params) (dsn, database, schema string, err error) {
	if p.URI != "" {
		cfg, err := gosnowflake.ParseDSN(p.URI)
		if err != nil {
			return "", "", "", fmt.Errorf("parse snowflake dsn: %w", err)
		}
		return p.URI, cfg.Database, cfg.Schema, nil
	}
	cfg := &gosnowflake.Config{
		Account:      connector.String(p.Details, "account"),
		User:         connector.String(p.Details, "user"),
		Password:     connector.String(p.Details, "password"),
		Database:     connector.String(p.Details, "database"),
		Schema:       connector.StringOr(p.Details, "schema", "PUBLIC"),
		Warehouse:    connector.String(p.Details, "warehouse"),
		Role:         connector.String(p.Details, "role"),
		Application:  "datasaki",
		LoginTimeout: 15 * time.Second,
	}
	if cfg.Account == "" {
		return "", "", "", apperrors.MissingField("account")
	}
	dsn, err = gosnowflake.DSN(cfg)
	if err != nil {
		return "", "", "", fmt.Errorf("build snowflake dsn: %w", err)
	}
	return dsn, cfg.Database, cfg.Schema, nil
}

// Open creates the database handle.
func Open(_ context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	dsn, database, schema, err := DSN(p)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to Snowflake: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(time.Hour)
	if schema == "" {
		schema = "PUBLIC"
	}
	return &connector.SQLBackend{
		DB:              db,
		Dialect:         dialect{database: strings.ToUpper(database)},
		Schema:          schema,
		Database:        strings.ToUpper(database),
		CurrentDatabase: "SELECT CURRENT_DATABASE()",
		Logger:          logger,
	}, nil
}

type dialect struct {
	database string
}

var types = connector.PortableTypes("NUMBER(38,0)", "FLOAT", "BOOLEAN", "DATE", "TIMESTAMP_NTZ", "VARCHAR")

func (dialect) Quote(name string) string { return connector.QuoteDouble(strings.ToUpper(name)) }
func (dialect) Placeholder(int) string   { return "?" }
func (dialect) Types() connector.TypeMap { return types }
func (dialect) MaxParams() int           { return 16384 }

func (dialect) SampleQuery(table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, limit)
}

func (dialect) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]models.ColumnProfile, error) {
	return connector.QueryColumns(ctx, db, `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE = 'YES'
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, strings.ToUpper(schema), strings.ToUpper(table))
}

func (d dialect) PrimaryKeys(ctx context.Context, db *sql.DB, schema, table string) ([]string, error) {
	rows, err := d.show(ctx, db, "SHOW PRIMARY KEYS IN TABLE", schema, table)
	if err != nil {
		return nil, err
	}
	var pks []string
	for _, row := range rows {
		if col, ok := row["column_name"].(string); ok {
			pks = append(pks, col)
		}
	}
	return pks, nil
}

func (d dialect) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]models.ForeignKey, error) {
	rows, err := d.show(ctx, db, "SHOW IMPORTED KEYS IN TABLE", schema, table)
	if err != nil {
		return nil, err
	}
	var fks []models.ForeignKey
	for _, row := range rows {
		fk := models.ForeignKey{
			Column:           text(row["fk_column_name"]),
			ReferencedTable:  text(row["pk_schema_name"]) + "." + text(row["pk_table_name"]),
			ReferencedColumn: text(row["pk_column_name"]),
		}
		if fk.Column != "" {
			fks = append(fks, fk)
		}
	}
	return fks, nil
}

// show runs a SHOW ... IN TABLE command. Its result columns vary by
// server version, so rows come back keyed by lower-case column name.
func (d dialect) show(ctx context.Context, db *sql.DB, command, schema, table string) ([]map[string]any, error) {
	target := d.Quote(schema) + "." + d.Quote(table)
	if d.database != "" {
		target = d.Quote(d.database) + "." + target
	}
	rows, err := db.QueryContext(ctx, command+" "+target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(command), err)
	}
	defer rows.Close()
	_, out, err := connector.CollectSQLRows(rows)
	if err != nil {
		return nil, err
	}
	for i, row := range out {
		lowered := make(map[string]any, len(row))
		for k, v := range row {
			lowered[strings.ToLower(k)] = v
		}
		out[i] = lowered
	}
	return out, nil
}

func text(v any) string {
	s, _ := connector.Stringify(v)
	return s
}

func (dialect) EstimateRows(ctx context.Context, db *sql.DB, schema, table string) (int64, bool, error) {
	return connector.QueryEstimate(ctx, db, `
		SELECT ROW_COUNT FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, strings.ToUpper(schema), strings.ToUpper(table))
}

func (dialect) TableExists(ctx context.Context, tx *sql.Tx, schema, table string) (bool, error) {
	return connector.TxExists(ctx, tx, `
		SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, strings.ToUpper(schema), strings.ToUpper(table))
}

func (dialect) ListTables(ctx context.Context, db *sql.DB) ([]models.SourceEntry, error) {
	return connector.QueryTables(ctx, db, `
		SELECT TABLE_SCHEMA, TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA <> 'INFORMATION_SCHEMA'
		ORDER BY TABLE_SCHEMA, TABLE_NAME`)
}

var _ connector.SQLDialect = dialect{}
