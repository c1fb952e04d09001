package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset source types.
const (
	SourceTypeFile     = "file"
	SourceTypeDatabase = "database"
	SourceTypeAPI      = "api"
	SourceTypeStream   = "stream"
)

// ValidSourceTypes contains all dataset source types.
var ValidSourceTypes = []string{SourceTypeFile, SourceTypeDatabase, SourceTypeAPI, SourceTypeStream}

// IsValidSourceType checks if the given source type is valid.
func IsValidSourceType(t string) bool {
	for _, v := range ValidSourceTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Dataset is a cataloged view over one source reachable through a connector.
type Dataset struct {
	ID              int64             `json:"id"`
	UserID          uuid.UUID         `json:"user_id"`
	ConnectorID     uuid.UUID         `json:"connector_id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	SourceType      string            `json:"source_type"`
	SourcePath      string            `json:"source_path"`
	SchemaInfo      *SchemaSnapshot   `json:"schema_info"`
	Metadata        map[string]any    `json:"dataset_metadata"`
	Transformations []*Transformation `json:"transformations,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// DatasetUpdate carries the mutable fields of a dataset. Nil means unchanged.
type DatasetUpdate struct {
	Name        *string
	Description *string
	Metadata    map[string]any
}

// DatasetFilter narrows a dataset listing.
type DatasetFilter struct {
	Skip       int
	Limit      int
	Search     string // case-insensitive substring of name
	SourceType string // exact match when non-empty
}

// DatasetPage is one page of a listing plus the total match count.
type DatasetPage struct {
	Total int64      `json:"total"`
	Items []*Dataset `json:"items"`
}

// Transformation is one step of a dataset's ordered processing chain.
// Order values need not be unique; reads are sorted by order, then id.
type Transformation struct {
	ID        int64          `json:"id"`
	DatasetID int64          `json:"dataset_id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	Order     int            `json:"order"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DatasetPreview is a capped read of a dataset's source with its transformation chain.
type DatasetPreview struct {
	DatasetID       int64             `json:"dataset_id"`
	Sample          *Sample           `json:"sample"`
	Transformations []*Transformation `json:"transformations"`
	Cached          bool              `json:"cached"`
}
