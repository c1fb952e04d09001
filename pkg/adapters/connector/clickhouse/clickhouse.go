// Package clickhouse implements the ClickHouse connector capability over the native protocol.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

var types = connector.PortableTypes(
	"Nullable(Int64)", "Nullable(Float64)", "Nullable(Bool)",
	"Nullable(Date32)", "Nullable(DateTime64(3))", "Nullable(String)",
)

// Registration describes the clickhouse connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:        "clickhouse",
			DisplayName: "ClickHouse",
			Description: "ClickHouse 22+ over the native protocol",
			Family:      connector.FamilyDatabase,
			Writable:    true,
		},
		Open:     Open,
		Validate: connector.ValidatePort,
	}
}

// Options builds driver options from params. A URI in clickhouse:// form is
// parsed by the driver.
func Options(p connector.Params) (*clickhouse.Options, error) {
	if p.URI != "" {
		opts, err := clickhouse.ParseDSN(p.URI)
		if err != nil {
			return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
		}
		return opts, nil
	}
	port, err := connector.Int(p.Details, "port", 9000)
	if err != nil {
		return nil, err
	}
	opts := &clickhouse.Options{
		Addr: []string{net.JoinHostPort(config.ResolveHostForDocker(connector.String(p.Details, "host")), strconv.Itoa(port))},
		Auth: clickhouse.Auth{
			Database: connector.String(p.Details, "database"),
			Username: connector.String(p.Details, "user"),
			Password: connector.String(p.Details, "password"),
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:  10 * time.Second,
		MaxOpenConns: 2,
	}
	if connector.Bool(p.Details, "secure", false) {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// Capability holds one native ClickHouse connection pool.
type Capability struct {
	conn     chdriver.Conn
	database string
	logger   *zap.Logger
}

// Open dials lazily; the driver connects on first use.
func Open(_ context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	opts, err := Options(p)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	return &Capability{conn: conn, database: opts.Auth.Database, logger: logger}, nil
}

func (c *Capability) split(source string) (string, string) {
	db, table := connector.SplitQualified(source)
	if db == "" {
		db = c.database
	}
	return db, table
}

func (c *Capability) qualified(db, table string) string {
	if db == "" {
		return connector.QuoteBacktick(table)
	}
	return connector.QuoteBacktick(db) + "." + connector.QuoteBacktick(table)
}

// TestConnection pings the server.
func (c *Capability) TestConnection(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// ReadSample selects the first limit rows of a table.
func (c *Capability) ReadSample(ctx context.Context, source string, limit int) (*models.Sample, error) {
	if err := connector.ValidateIdentifier("source_path", source); err != nil {
		return nil, err
	}
	db, table := c.split(source)
	rows, err := c.conn.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", c.qualified(db, table), limit))
	if err != nil {
		return nil, fmt.Errorf("query sample: %w", err)
	}
	defer rows.Close()

	columns := rows.Columns()
	colTypes := rows.ColumnTypes()
	sample := &models.Sample{Source: source, Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		ptrs := make([]any, len(colTypes))
		for i, ct := range colTypes {
			ptrs[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = deref(ptrs[i])
		}
		sample.Rows = append(sample.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	sample.Truncated = len(sample.Rows) >= limit
	return sample, nil
}

func deref(ptr any) any {
	v := reflect.ValueOf(ptr).Elem()
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

type chColumn struct {
	name string
	typ  string
	pk   bool
}

func (c *Capability) columns(ctx context.Context, db, table string) ([]chColumn, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT name, type, is_in_primary_key
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position`, db, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var out []chColumn
	for rows.Next() {
		var col chColumn
		var pk uint8
		if err := rows.Scan(&col.name, &col.typ, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.pk = pk == 1
		out = append(out, col)
	}
	return out, rows.Err()
}

// InferSchema reads system.columns and system.tables. ClickHouse has no
// foreign keys; the primary key is the sorting key prefix.
func (c *Capability) InferSchema(ctx context.Context, source string, _ int) (*models.SchemaSnapshot, error) {
	if err := connector.ValidateIdentifier("source_path", source); err != nil {
		return nil, err
	}
	db, table := c.split(source)
	cols, err := c.columns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, apperrors.NotFound("table", source)
	}

	profiles := make([]models.ColumnProfile, len(cols))
	var pks []string
	for i, col := range cols {
		profiles[i] = models.ColumnProfile{
			Name:       col.name,
			Type:       connector.GenericType(col.typ),
			NativeType: col.typ,
			Nullable:   strings.HasPrefix(col.typ, "Nullable("),
		}
		if col.pk {
			pks = append(pks, col.name)
		}
	}

	var total *uint64
	if err := c.conn.QueryRow(ctx, "SELECT total_rows FROM system.tables WHERE database = ? AND name = ?", db, table).Scan(&total); err != nil {
		return nil, fmt.Errorf("estimate row count: %w", err)
	}
	var count int64
	if total != nil {
		count = int64(*total)
	} else {
		var n uint64
		if err := c.conn.QueryRow(ctx, "SELECT count() FROM "+c.qualified(db, table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count rows: %w", err)
		}
		count = int64(n)
	}
	return connector.TableSnapshot(profiles, pks, nil, count), nil
}

// WriteRows optionally creates a MergeTree table, then sends one batch.
func (c *Capability) WriteRows(ctx context.Context, req connector.WriteRequest) (*models.WriteResult, error) {
	if err := req.ValidateSQL(); err != nil {
		return nil, err
	}
	db, table := c.split(req.Table)
	target := c.qualified(db, table)
	columns := req.Columns()

	var exists uint64
	if err := c.conn.QueryRow(ctx, "SELECT count() FROM system.tables WHERE database = ? AND name = ?", db, table).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check table: %w", err)
	}
	created := false
	if exists == 0 && len(req.Schema) > 0 {
		ddl, err := types.ColumnDDL(req, connector.QuoteBacktick)
		if err != nil {
			return nil, err
		}
		if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s) ENGINE = MergeTree() ORDER BY tuple()", target, ddl)); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
		created = true
	}

	cols, err := c.columns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	typeOf := make(map[string]string, len(cols))
	for _, col := range cols {
		typeOf[col.name] = col.typ
	}

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = connector.QuoteBacktick(col)
	}
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", target, strings.Join(quoted, ", ")))
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}
	for i, row := range req.Rows {
		vals := make([]any, len(columns))
		for j, col := range columns {
			v, err := Coerce(typeOf[col], row[col])
			if err != nil {
				_ = batch.Abort()
				return nil, apperrors.NewValidationError("rows", fmt.Sprintf("row %d column %s: %v", i+1, col, err))
			}
			vals[j] = v
		}
		if err := batch.Append(vals...); err != nil {
			_ = batch.Abort()
			return nil, fmt.Errorf("append row %d: %w", i+1, err)
		}
	}
	if err := batch.Send(); err != nil {
		return nil, fmt.Errorf("send batch: %w", err)
	}

	c.logger.Info("Sent batch to clickhouse",
		zap.String("table", req.Table),
		zap.Int("rows", len(req.Rows)),
		zap.Bool("created", created))
	return &models.WriteResult{Table: req.Table, RowsWritten: int64(len(req.Rows)), Created: created}, nil
}

// ListSources lists tables in the connected database.
func (c *Capability) ListSources(ctx context.Context) ([]models.SourceEntry, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT database, name FROM system.tables
		WHERE database = currentDatabase() AND NOT is_temporary
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	out := []models.SourceEntry{}
	for rows.Next() {
		var db, name string
		if err := rows.Scan(&db, &name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, models.SourceEntry{Name: name, Path: db + "." + name})
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (c *Capability) Close() error {
	return c.conn.Close()
}

var (
	_ connector.Capability   = (*Capability)(nil)
	_ connector.SourceLister = (*Capability)(nil)
)
