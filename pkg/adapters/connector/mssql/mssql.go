// Package mssql implements the SQL Server connector capability.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Authentication methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal" // user = client id, password = client secret
)

// Registration describes the mssql connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2016+, Azure SQL Database",
			Family:      connector.FamilyDatabase,
			Writable:    true,
		},
		Open:     Open,
		Validate: connector.ValidatePort,
	}
}

// ConnectionString returns the driver name and connection string for params.
func ConnectionString(p connector.Params) (driver, connStr, database string, err error) {
	if p.URI != "" {
		u, err := url.Parse(p.URI)
		if err != nil {
			return "", "", "", fmt.Errorf("parse sqlserver uri: %w", err)
		}
		return "sqlserver", p.URI, u.Query().Get("database"), nil
	}

	port, err := connector.Int(p.Details, "port", 1433)
	if err != nil {
		return "", "", "", err
	}
	database = connector.String(p.Details, "database")
	query := url.Values{}
	query.Add("database", database)
	if connector.Bool(p.Details, "encrypt", true) {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if connector.Bool(p.Details, "trust_server_certificate", false) {
		query.Add("TrustServerCertificate", "true")
	}
	timeout, _ := connector.Int(p.Details, "connection_timeout", 30)
	query.Add("connection timeout", strconv.Itoa(timeout))

	u := url.URL{
		Scheme: "sqlserver",
		Host:   fmt.Sprintf("%s:%d", config.ResolveHostForDocker(connector.String(p.Details, "host")), port),
	}
	driver = "sqlserver"
	switch connector.StringOr(p.Details, "auth_method", AuthSQL) {
	case AuthServicePrincipal:
		driver = azuread.DriverName
		query.Add("fedauth", azuread.ActiveDirectoryServicePrincipal)
		query.Add("user id", connector.String(p.Details, "user"))
		query.Add("password", connector.String(p.Details, "password"))
		query.Add("tenant id", connector.String(p.Details, "tenant_id"))
	default:
		u.User = url.UserPassword(connector.String(p.Details, "user"), connector.String(p.Details, "password"))
	}
	u.RawQuery = query.Encode()
	return driver, u.String(), database, nil
}

// Open creates the database handle.
func Open(_ context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	driver, connStr, database, err := ConnectionString(p)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("open sql server connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	return &connector.SQLBackend{
		DB:              db,
		Dialect:         dialect{},
		Schema:          connector.StringOr(p.Details, "schema", "dbo"),
		Database:        database,
		CurrentDatabase: "SELECT DB_NAME()",
		Logger:          logger,
	}, nil
}

type dialect struct{}

var types = connector.PortableTypes("BIGINT", "FLOAT", "BIT", "DATE", "DATETIME2", "NVARCHAR(MAX)")

func (dialect) Quote(name string) string { return connector.QuoteBracket(name) }
func (dialect) Placeholder(i int) string { return "@p" + strconv.Itoa(i) }
func (dialect) Types() connector.TypeMap { return types }
func (dialect) MaxParams() int           { return 2100 }

func (dialect) SampleQuery(table string, limit int) string {
	return fmt.Sprintf("SELECT TOP (%d) * FROM %s", limit, table)
}

func (dialect) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]models.ColumnProfile, error) {
	return connector.QueryColumns(ctx, db, `
		SELECT COLUMN_NAME, DATA_TYPE, CAST(CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END AS BIT)
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`, schema, table)
}

func (dialect) PrimaryKeys(ctx context.Context, db *sql.DB, schema, table string) ([]string, error) {
	return connector.QueryStrings(ctx, db, `
		SELECT kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
		ORDER BY kcu.ORDINAL_POSITION`, schema, table)
}

func (dialect) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]models.ForeignKey, error) {
	return connector.QueryForeignKeys(ctx, db, `
		SELECT pc.name, rs.name + '.' + rt.name, rc.name
		FROM sys.foreign_key_columns fkc
		JOIN sys.tables pt ON pt.object_id = fkc.parent_object_id
		JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
		JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE ps.name = @p1 AND pt.name = @p2
		ORDER BY fkc.constraint_column_id`, schema, table)
}

func (dialect) EstimateRows(ctx context.Context, db *sql.DB, schema, table string) (int64, bool, error) {
	return connector.QueryEstimate(ctx, db, `
		SELECT SUM(p.rows)
		FROM sys.partitions p
		JOIN sys.tables t ON t.object_id = p.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = @p1 AND t.name = @p2 AND p.index_id IN (0, 1)`, schema, table)
}

func (dialect) TableExists(ctx context.Context, tx *sql.Tx, schema, table string) (bool, error) {
	return connector.TxExists(ctx, tx, `
		SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`, schema, table)
}

func (dialect) ListTables(ctx context.Context, db *sql.DB) ([]models.SourceEntry, error) {
	return connector.QueryTables(ctx, db, `
		SELECT TABLE_SCHEMA, TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_SCHEMA, TABLE_NAME`)
}

// BulkInsert streams rows through the TDS bulk copy protocol.
func (dialect) BulkInsert(ctx context.Context, tx *sql.Tx, table string, columns []string, rows []map[string]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk copy: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		vals := make([]any, len(columns))
		for j, c := range columns {
			vals[j] = row[c]
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return 0, fmt.Errorf("queue row %d: %w", i+1, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("flush bulk copy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return int64(len(rows)), nil
	}
	return n, nil
}

var (
	_ connector.SQLDialect   = dialect{}
	_ connector.BulkInserter = dialect{}
)
