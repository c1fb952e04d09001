// Package connector defines the capability contract every data backend
// implements and the registry that selects a backend by connector type.
package connector

import (
	"context"
	"errors"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Family groups connector types that share validation rules.
type Family string

const (
	FamilyFile     Family = "file"
	FamilyDatabase Family = "database"
	FamilyCloud    Family = "cloud"
)

// DefaultSampleLimit caps inference and preview reads when the caller passes zero.
const DefaultSampleLimit = 1000

// ErrReadOnly is returned by WriteRows on backends or formats that cannot accept rows.
var ErrReadOnly = errors.New("connector does not support writes")

// Capability is the closed set of operations a backend offers. An instance
// owns its connections and must be closed when done.
type Capability interface {
	// TestConnection verifies the backend is reachable with the stored credentials.
	TestConnection(ctx context.Context) error

	// ReadSample returns at most limit rows from source.
	ReadSample(ctx context.Context, source string, limit int) (*models.Sample, error)

	// WriteRows creates the target when a schema is given and it is absent,
	// then inserts all rows in a single bulk operation.
	WriteRows(ctx context.Context, req WriteRequest) (*models.WriteResult, error)

	// InferSchema profiles source. File-like backends read at most limit rows.
	InferSchema(ctx context.Context, source string, limit int) (*models.SchemaSnapshot, error)

	// Close releases any connections held by the capability.
	Close() error
}

// SourceLister is implemented by backends that can enumerate readable sources.
type SourceLister interface {
	ListSources(ctx context.Context) ([]models.SourceEntry, error)
}

// WriteRequest describes one bulk write.
type WriteRequest struct {
	Table  string
	Rows   []map[string]any
	Schema []models.ColumnDefinition
}

// Params is the stored configuration a capability is opened from.
type Params struct {
	Type     string
	FilePath string
	Details  map[string]any
	URI      string
}
