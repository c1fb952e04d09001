package models

import (
	"time"

	"github.com/google/uuid"
)

// Connector directions.
const (
	ConnectorSource      = "source"
	ConnectorDestination = "destination"
)

// Connector is a user's saved configuration for reaching an external data backend.
// ConnectionDetails and ConnectionURI hold credentials and are encrypted at rest
// by the service layer.
type Connector struct {
	ID                uuid.UUID      `json:"id"`
	UserID            uuid.UUID      `json:"user_id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Type              string         `json:"type"`           // "postgres", "csv", "s3", ...
	ConnectorType     string         `json:"connector_type"` // "source" or "destination"
	FilePath          string         `json:"file_path,omitempty"`
	ConnectionDetails map[string]any `json:"connection_details,omitempty"`
	ConnectionURI     string         `json:"connection_uri,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsDestination reports whether rows may be written through the connector.
func (c *Connector) IsDestination() bool {
	return c.ConnectorType == ConnectorDestination
}

// IsValidConnectorType checks the direction value.
func IsValidConnectorType(t string) bool {
	return t == ConnectorSource || t == ConnectorDestination
}

// ConnectorUpdate carries the mutable fields of a connector. Nil means unchanged.
type ConnectorUpdate struct {
	Name              *string
	Description       *string
	Type              *string
	ConnectorType     *string
	FilePath          *string
	ConnectionDetails map[string]any
	ConnectionURI     *string
}

// ConnectionTestResult is the outcome of probing a connector. Failures are
// described here rather than returned as errors.
type ConnectionTestResult struct {
	Success   bool   `json:"success"`
	Type      string `json:"type"`
	Operation string `json:"operation"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// ColumnDefinition declares a column for table creation on write.
type ColumnDefinition struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// WriteResult reports a completed bulk write.
type WriteResult struct {
	Table       string `json:"table"`
	RowsWritten int64  `json:"rows_written"`
	Created     bool   `json:"table_created"`
}

// Sample is a capped read from one source of a connector.
type Sample struct {
	Source    string           `json:"source"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
}

// SourceEntry is one readable item behind a connector (file, object, table).
type SourceEntry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	Modified  time.Time `json:"modified,omitempty"`
}
