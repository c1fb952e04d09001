// Package mysql implements the MySQL/MariaDB connector capability.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Registration describes the mysql connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:        "mysql",
			DisplayName: "MySQL",
			Description: "MySQL 5.7+, MariaDB, Aurora MySQL",
			Family:      connector.FamilyDatabase,
			Writable:    true,
		},
		Open:     Open,
		Validate: connector.ValidatePort,
	}
}

// DSN builds a driver DSN from params. A connection URI in the driver's own
// format is passed through.
func DSN(p connector.Params) (string, string, error) {
	if p.URI != "" {
		cfg, err := mysql.ParseDSN(p.URI)
		if err != nil {
			return "", "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		return p.URI, cfg.DBName, nil
	}
	port, err := connector.Int(p.Details, "port", 3306)
	if err != nil {
		return "", "", err
	}
	cfg := mysql.NewConfig()
	cfg.User = connector.String(p.Details, "user")
	cfg.Passwd = connector.String(p.Details, "password")
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(config.ResolveHostForDocker(connector.String(p.Details, "host")), strconv.Itoa(port))
	cfg.DBName = connector.String(p.Details, "database")
	cfg.ParseTime = true
	cfg.Timeout = 10 * time.Second
	if tls := connector.String(p.Details, "tls"); tls != "" {
		cfg.TLSConfig = tls
	}
	return cfg.FormatDSN(), cfg.DBName, nil
}

// Open creates the database handle.
func Open(_ context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	dsn, database, err := DSN(p)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(time.Minute)
	return &connector.SQLBackend{
		DB:              db,
		Dialect:         dialect{},
		Schema:          database,
		Database:        database,
		CurrentDatabase: "SELECT DATABASE()",
		Logger:          logger,
	}, nil
}

type dialect struct{}

var types = connector.PortableTypes("BIGINT", "DOUBLE", "BOOLEAN", "DATE", "DATETIME(6)", "TEXT")

func (dialect) Quote(name string) string { return connector.QuoteBacktick(name) }
func (dialect) Placeholder(int) string   { return "?" }
func (dialect) Types() connector.TypeMap { return types }
func (dialect) MaxParams() int           { return 65535 }

func (dialect) SampleQuery(table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, limit)
}

func (dialect) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]models.ColumnProfile, error) {
	return connector.QueryColumns(ctx, db, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE = 'YES'
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, schema, table)
}

func (dialect) PrimaryKeys(ctx context.Context, db *sql.DB, schema, table string) ([]string, error) {
	return connector.QueryStrings(ctx, db, `
		SELECT k.COLUMN_NAME
		FROM information_schema.TABLE_CONSTRAINTS t
		JOIN information_schema.KEY_COLUMN_USAGE k
		  ON t.CONSTRAINT_NAME = k.CONSTRAINT_NAME AND t.TABLE_SCHEMA = k.TABLE_SCHEMA AND t.TABLE_NAME = k.TABLE_NAME
		WHERE t.CONSTRAINT_TYPE = 'PRIMARY KEY' AND t.TABLE_SCHEMA = ? AND t.TABLE_NAME = ?
		ORDER BY k.ORDINAL_POSITION`, schema, table)
}

func (dialect) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]models.ForeignKey, error) {
	return connector.QueryForeignKeys(ctx, db, `
		SELECT COLUMN_NAME, CONCAT(REFERENCED_TABLE_SCHEMA, '.', REFERENCED_TABLE_NAME), REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY ORDINAL_POSITION`, schema, table)
}

func (dialect) EstimateRows(ctx context.Context, db *sql.DB, schema, table string) (int64, bool, error) {
	return connector.QueryEstimate(ctx, db, `
		SELECT TABLE_ROWS FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, schema, table)
}

func (dialect) TableExists(ctx context.Context, tx *sql.Tx, schema, table string) (bool, error) {
	return connector.TxExists(ctx, tx, `
		SELECT COUNT(*) FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, schema, table)
}

func (dialect) ListTables(ctx context.Context, db *sql.DB) ([]models.SourceEntry, error) {
	return connector.QueryTables(ctx, db, `
		SELECT TABLE_SCHEMA, TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME`)
}

var _ connector.SQLDialect = dialect{}
