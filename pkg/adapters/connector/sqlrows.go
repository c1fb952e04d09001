package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

// CollectSQLRows drains rows into keyed maps. []byte values become strings.
func CollectSQLRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}
	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return cols, out, nil
}

// QuerySample runs query and returns its rows as a sample of source.
func QuerySample(ctx context.Context, db *sql.DB, source, query string, limit int, args ...any) (*models.Sample, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sample: %w", err)
	}
	defer rows.Close()

	cols, data, err := CollectSQLRows(rows)
	if err != nil {
		return nil, err
	}
	return &models.Sample{Source: source, Columns: cols, Rows: data, Truncated: len(data) >= limit}, nil
}

// InsertStatement builds a multi-row INSERT into an already quoted target
// with one placeholder per value. placeholder receives the 1-based index.
func InsertStatement(target string, columns []string, rowCount int, quote func(string) string, placeholder func(int) string) string {
	var b strings.Builder
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
	}
	b.WriteString("INSERT INTO ")
	b.WriteString(target)
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")

	arg := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder(arg))
			arg++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// InsertArgs flattens rows in column order to match InsertStatement.
func InsertArgs(columns []string, rows []map[string]any) []any {
	args := make([]any, 0, len(columns)*len(rows))
	for _, row := range rows {
		for _, c := range columns {
			args = append(args, row[c])
		}
	}
	return args
}

// QuoteQualified quotes each dot-separated part of name.
func QuoteQualified(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote(p)
	}
	return strings.Join(parts, ".")
}

// QuoteDouble quotes an identifier ANSI-style.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteBacktick quotes an identifier MySQL/ClickHouse-style.
func QuoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteBracket quotes an identifier SQL Server-style.
func QuoteBracket(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QuestionMark is the placeholder style of MySQL, Snowflake and ClickHouse.
func QuestionMark(int) string { return "?" }

// DollarN is the PostgreSQL placeholder style.
func DollarN(i int) string { return fmt.Sprintf("$%d", i) }

// TableSnapshot assembles a database snapshot from introspected parts.
func TableSnapshot(cols []models.ColumnProfile, pks []string, fks []models.ForeignKey, rowCount int64) *models.SchemaSnapshot {
	pkSet := make(map[string]struct{}, len(pks))
	for _, pk := range pks {
		pkSet[pk] = struct{}{}
	}
	for i := range cols {
		if _, ok := pkSet[cols[i].Name]; ok {
			cols[i].PrimaryKey = true
		}
		if cols[i].SampleValues == nil {
			cols[i].SampleValues = []string{}
		}
	}
	if pks == nil {
		pks = []string{}
	}
	if fks == nil {
		fks = []models.ForeignKey{}
	}
	return &models.SchemaSnapshot{
		Kind:        models.SchemaKindTable,
		RowCount:    rowCount,
		Columns:     cols,
		PrimaryKeys: pks,
		ForeignKeys: fks,
		InferredAt:  nowUTC(),
	}
}
