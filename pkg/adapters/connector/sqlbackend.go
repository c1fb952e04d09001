package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// SQLDialect captures what differs between database/sql backends.
type SQLDialect interface {
	Quote(name string) string
	Placeholder(i int) string
	Types() TypeMap
	// MaxParams bounds placeholders per INSERT statement.
	MaxParams() int
	// SampleQuery selects at most limit rows from an already quoted table.
	SampleQuery(table string, limit int) string
	Columns(ctx context.Context, db *sql.DB, schema, table string) ([]models.ColumnProfile, error)
	PrimaryKeys(ctx context.Context, db *sql.DB, schema, table string) ([]string, error)
	ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]models.ForeignKey, error)
	// EstimateRows returns ok=false when the catalog has no usable estimate.
	EstimateRows(ctx context.Context, db *sql.DB, schema, table string) (n int64, ok bool, err error)
	TableExists(ctx context.Context, tx *sql.Tx, schema, table string) (bool, error)
	ListTables(ctx context.Context, db *sql.DB) ([]models.SourceEntry, error)
}

// BulkInserter is implemented by dialects with a native bulk load path.
type BulkInserter interface {
	BulkInsert(ctx context.Context, tx *sql.Tx, table string, columns []string, rows []map[string]any) (int64, error)
}

// SQLBackend implements Capability over a database/sql handle and a dialect.
type SQLBackend struct {
	DB       *sql.DB
	Dialect  SQLDialect
	Schema   string // used for unqualified table names
	Database string // checked by TestConnection when non-empty
	// CurrentDatabase is the query returning the connected database name.
	CurrentDatabase string
	Logger          *zap.Logger
}

func (b *SQLBackend) split(name string) (string, string) {
	schema, table := SplitQualified(name)
	if schema == "" {
		schema = b.Schema
	}
	return schema, table
}

func (b *SQLBackend) qualified(schema, table string) string {
	if schema == "" {
		return b.Dialect.Quote(table)
	}
	return QuoteQualified(schema, b.Dialect.Quote) + "." + b.Dialect.Quote(table)
}

// TestConnection pings the server and runs a trivial query.
func (b *SQLBackend) TestConnection(ctx context.Context) error {
	if err := b.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var one int
	if err := b.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	if b.CurrentDatabase != "" && b.Database != "" {
		var current string
		if err := b.DB.QueryRowContext(ctx, b.CurrentDatabase).Scan(&current); err != nil {
			return fmt.Errorf("failed to get current database name: %w", err)
		}
		if !strings.EqualFold(current, b.Database) {
			return fmt.Errorf("connected to wrong database: expected %q but connected to %q", b.Database, current)
		}
	}
	return nil
}

// ReadSample selects the first limit rows of a table.
func (b *SQLBackend) ReadSample(ctx context.Context, source string, limit int) (*models.Sample, error) {
	if err := ValidateIdentifier("source_path", source); err != nil {
		return nil, err
	}
	schema, table := b.split(source)
	return QuerySample(ctx, b.DB, source, b.Dialect.SampleQuery(b.qualified(schema, table), limit), limit)
}

// InferSchema introspects columns, keys and row count from the catalog.
func (b *SQLBackend) InferSchema(ctx context.Context, source string, _ int) (*models.SchemaSnapshot, error) {
	if err := ValidateIdentifier("source_path", source); err != nil {
		return nil, err
	}
	schema, table := b.split(source)

	cols, err := b.Dialect.Columns(ctx, b.DB, schema, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, apperrors.NotFound("table", source)
	}
	pks, err := b.Dialect.PrimaryKeys(ctx, b.DB, schema, table)
	if err != nil {
		return nil, err
	}
	fks, err := b.Dialect.ForeignKeys(ctx, b.DB, schema, table)
	if err != nil {
		return nil, err
	}
	n, ok, err := b.Dialect.EstimateRows(ctx, b.DB, schema, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := b.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+b.qualified(schema, table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count rows: %w", err)
		}
	}
	return TableSnapshot(cols, pks, fks, n), nil
}

// WriteRows optionally creates the table and inserts every row inside one transaction.
func (b *SQLBackend) WriteRows(ctx context.Context, req WriteRequest) (*models.WriteResult, error) {
	if err := req.ValidateSQL(); err != nil {
		return nil, err
	}
	schema, table := b.split(req.Table)
	target := b.qualified(schema, table)
	columns := req.Columns()
	bulk, isBulk := b.Dialect.(BulkInserter)
	perStmt := len(req.Rows)
	if !isBulk {
		n, err := rowsPerStatement(len(req.Rows), len(columns), b.Dialect.MaxParams())
		if err != nil {
			return nil, err
		}
		perStmt = n
	}

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback on defer is best-effort

	exists, err := b.Dialect.TableExists(ctx, tx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("check table: %w", err)
	}
	created := false
	if !exists && len(req.Schema) > 0 {
		ddl, err := b.Dialect.Types().ColumnDDL(req, b.Dialect.Quote)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", target, ddl)); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
		created = true
	}

	var written int64
	if isBulk {
		written, err = bulk.BulkInsert(ctx, tx, target, columns, req.Rows)
	} else {
		written, err = b.insert(ctx, tx, target, columns, req.Rows, perStmt)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	b.Logger.Info("Inserted rows",
		zap.String("table", req.Table),
		zap.Int64("rows", written),
		zap.Bool("created", created))
	return &models.WriteResult{Table: req.Table, RowsWritten: written, Created: created}, nil
}

// rowsPerStatement is how many rows fit in one INSERT under a placeholder
// limit of maxParams (0 means unlimited). A row wider than the limit cannot
// be inserted at all.
func rowsPerStatement(rows, columns, maxParams int) (int, error) {
	if maxParams <= 0 || columns == 0 || rows*columns <= maxParams {
		return rows, nil
	}
	if columns > maxParams {
		return 0, apperrors.NewValidationError("rows",
			fmt.Sprintf("%d columns exceed the backend limit of %d parameters per statement", columns, maxParams))
	}
	return maxParams / columns, nil
}

// insert issues multi-row INSERTs of perStmt rows each.
func (b *SQLBackend) insert(ctx context.Context, tx *sql.Tx, target string, columns []string, rows []map[string]any, perStmt int) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		stmt := InsertStatement(target, columns, len(chunk), b.Dialect.Quote, b.Dialect.Placeholder)
		res, err := tx.ExecContext(ctx, stmt, InsertArgs(columns, chunk)...)
		if err != nil {
			return total, fmt.Errorf("insert rows: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total += int64(len(chunk))
		}
	}
	return total, nil
}

// ListSources delegates to the dialect's table listing.
func (b *SQLBackend) ListSources(ctx context.Context) ([]models.SourceEntry, error) {
	return b.Dialect.ListTables(ctx, b.DB)
}

// Close closes the database handle.
func (b *SQLBackend) Close() error {
	if b.DB == nil {
		return nil
	}
	return b.DB.Close()
}

var (
	_ Capability   = (*SQLBackend)(nil)
	_ SourceLister = (*SQLBackend)(nil)
)
