package models

import "time"

// Schema snapshot kinds.
const (
	SchemaKindFile       = "file"
	SchemaKindTable      = "table"
	SchemaKindCollection = "collection"
	SchemaKindObject     = "object"
)

// Inferred column types.
const (
	ColumnTypeInteger   = "integer"
	ColumnTypeFloat     = "float"
	ColumnTypeBoolean   = "boolean"
	ColumnTypeDate      = "date"
	ColumnTypeTimestamp = "timestamp"
	ColumnTypeString    = "string"
	ColumnTypeUnknown   = "unknown"
)

// MaxSampleValues bounds the example values kept per column.
const MaxSampleValues = 5

// SchemaSnapshot is the inferred structure of a dataset source at one moment.
// It is never refreshed implicitly.
type SchemaSnapshot struct {
	Kind        string          `json:"kind"`
	FileFormat  string          `json:"file_format,omitempty"`
	RowCount    int64           `json:"row_count"`
	SampledRows int             `json:"sampled_rows,omitempty"`
	SampleLimit int             `json:"sample_limit,omitempty"`
	Columns     []ColumnProfile `json:"columns"`
	PrimaryKeys []string        `json:"primary_keys,omitempty"`
	ForeignKeys []ForeignKey    `json:"foreign_keys,omitempty"`
	InferredAt  time.Time       `json:"inferred_at"`
}

// ColumnProfile describes one column of a snapshot.
type ColumnProfile struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	NativeType   string   `json:"native_type,omitempty"`
	Nullable     bool     `json:"nullable"`
	PrimaryKey   bool     `json:"primary_key,omitempty"`
	SampleValues []string `json:"sample_values"`
	NullCount    int64    `json:"null_count"`
	UniqueCount  int64    `json:"unique_count"`
}

// ForeignKey is a single-column reference to another table.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Column returns the profile named name, or nil.
func (s *SchemaSnapshot) Column(name string) *ColumnProfile {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}
