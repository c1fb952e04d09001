package connector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
)

var (
	identPart    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)
	declaredType = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]{0,63}(\(\s*\d+\s*(,\s*\d+\s*)?\))?$`)
)

// InjectionError is returned when a caller-supplied name trips the SQL
// injection detector. Callers may audit it before returning.
type InjectionError struct {
	Field       string
	Value       string
	Fingerprint string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("%s: contains a SQL injection pattern", e.Field)
}

// Is makes InjectionError match apperrors.ErrValidation.
func (e *InjectionError) Is(target error) bool { return target == apperrors.ErrValidation }

// ValidateIdentifier checks a table or column name, optionally qualified with
// up to two dots, before it is spliced into SQL.
func ValidateIdentifier(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.MissingField(field)
	}
	if ok, fp := libinjection.IsSQLi(name); ok {
		return &InjectionError{Field: field, Value: name, Fingerprint: string(fp)}
	}
	parts := strings.Split(name, ".")
	if len(parts) > 3 {
		return apperrors.NewValidationError(field, "too many qualifiers")
	}
	for _, p := range parts {
		if !identPart.MatchString(p) {
			return apperrors.NewValidationError(field, fmt.Sprintf("invalid identifier %q", name))
		}
	}
	return nil
}

// SplitQualified splits schema.table into its parts; schema is empty when absent.
func SplitQualified(name string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// Columns returns the write column order: the schema order when a schema is
// given, otherwise the sorted union of row keys.
func (req WriteRequest) Columns() []string {
	if len(req.Schema) > 0 {
		cols := make([]string, len(req.Schema))
		for i, c := range req.Schema {
			cols[i] = c.Name
		}
		return cols
	}
	seen := make(map[string]struct{})
	for _, row := range req.Rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Validate checks the parts of a request every backend needs.
func (req WriteRequest) Validate() error {
	if strings.TrimSpace(req.Table) == "" {
		return apperrors.MissingField("table")
	}
	if len(req.Rows) == 0 {
		return apperrors.NewValidationError("rows", "at least one row is required")
	}
	seen := make(map[string]struct{}, len(req.Schema))
	for _, c := range req.Schema {
		if strings.TrimSpace(c.Name) == "" {
			return apperrors.MissingField("schema.name")
		}
		if _, dup := seen[c.Name]; dup {
			return apperrors.NewValidationError("schema", fmt.Sprintf("duplicate column %q", c.Name))
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// ValidateSQL additionally screens the table and column names for SQL backends.
func (req WriteRequest) ValidateSQL() error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := ValidateIdentifier("table", req.Table); err != nil {
		return err
	}
	for _, c := range req.Columns() {
		if err := ValidateIdentifier("column", c); err != nil {
			return err
		}
		if strings.Contains(c, ".") {
			return apperrors.NewValidationError("column", fmt.Sprintf("invalid column name %q", c))
		}
	}
	return nil
}

// TypeMap translates portable declared types to a backend's native types.
type TypeMap map[string]string

// Resolve maps declared to a native type. Names not in the map are passed
// through when they look like a plain SQL type such as VARCHAR(64).
func (m TypeMap) Resolve(declared string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(declared))
	if key == "" {
		key = "string"
	}
	if native, ok := m[key]; ok {
		return native, nil
	}
	if !declaredType.MatchString(declared) {
		return "", apperrors.NewValidationError("schema.type", fmt.Sprintf("unsupported column type %q", declared))
	}
	return strings.ToUpper(strings.TrimSpace(declared)), nil
}

// ColumnDDL renders "name TYPE" pairs for a CREATE TABLE using quote for names.
func (m TypeMap) ColumnDDL(req WriteRequest, quote func(string) string) (string, error) {
	parts := make([]string, 0, len(req.Schema))
	for _, c := range req.Schema {
		native, err := m.Resolve(c.Type)
		if err != nil {
			return "", err
		}
		parts = append(parts, quote(c.Name)+" "+native)
	}
	return strings.Join(parts, ", "), nil
}
