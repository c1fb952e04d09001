package connector

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// ObjectStore is the narrow blob API the cloud backends share.
type ObjectStore interface {
	// Ping verifies the bucket or container is reachable.
	Ping(ctx context.Context) error
	// Get opens key. It returns a NotFoundError when the key is absent.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// List returns objects under prefix with Path set to the full key.
	List(ctx context.Context, prefix string) ([]models.SourceEntry, error)
}

// ObjectBackend implements Capability over an ObjectStore. Objects are parsed
// with the file format readers selected by key extension.
type ObjectBackend struct {
	Store  ObjectStore
	Prefix string // prepended to relative keys
	Logger *zap.Logger
}

// Key validates source and joins it under the prefix.
func (b *ObjectBackend) Key(source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", apperrors.MissingField("source_path")
	}
	for _, part := range strings.Split(source, "/") {
		if part == ".." {
			return "", apperrors.NewValidationError("source_path", "must not contain '..'")
		}
	}
	if strings.HasPrefix(source, "/") {
		return strings.TrimPrefix(source, "/"), nil
	}
	if b.Prefix == "" || strings.HasPrefix(source, b.Prefix) {
		return source, nil
	}
	return path.Join(b.Prefix, source), nil
}

func (b *ObjectBackend) open(ctx context.Context, source string) (io.ReadCloser, Document, error) {
	name, sheet := SplitSheet(source)
	key, err := b.Key(name)
	if err != nil {
		return nil, Document{}, err
	}
	if !Supported(key) {
		return nil, Document{}, UnsupportedFormat(key)
	}
	body, size, err := b.Store.Get(ctx, key)
	if err != nil {
		return nil, Document{}, err
	}
	return body, Document{Name: key, Body: body, Size: size, Sheet: sheet}, nil
}

// TestConnection pings the store.
func (b *ObjectBackend) TestConnection(ctx context.Context) error {
	return b.Store.Ping(ctx)
}

// ReadSample parses the first limit records of an object.
func (b *ObjectBackend) ReadSample(ctx context.Context, source string, limit int) (*models.Sample, error) {
	body, doc, err := b.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	sample, err := SampleDocument(ctx, doc, limit)
	if err != nil {
		return nil, err
	}
	sample.Source = source
	return sample, nil
}

// InferSchema profiles at most limit records of an object.
func (b *ObjectBackend) InferSchema(ctx context.Context, source string, limit int) (*models.SchemaSnapshot, error) {
	body, doc, err := b.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	snap, err := ProfileDocument(ctx, doc, limit)
	if err != nil {
		return nil, err
	}
	snap.Kind = models.SchemaKindObject
	return snap, nil
}

// WriteRows uploads a new object or replaces an existing one with rows
// appended. Keys without an extension are written as CSV.
func (b *ObjectBackend) WriteRows(ctx context.Context, req WriteRequest) (*models.WriteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target := req.Table
	if path.Ext(target) == "" {
		target += "." + FormatCSV
	}
	key, err := b.Key(target)
	if err != nil {
		return nil, err
	}
	format := FormatFromPath(key)
	if !Writable(format) {
		return nil, ErrReadOnly
	}

	exists, err := b.Store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	var existing []byte
	if exists {
		body, _, err := b.Store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		existing, err = io.ReadAll(body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
	}
	raw, err := AppendRows(format, existing, req.Columns(), req.Rows)
	if err != nil {
		return nil, err
	}
	if err := b.Store.Put(ctx, key, raw, ContentType(format)); err != nil {
		return nil, err
	}

	b.Logger.Info("Uploaded object",
		zap.String("key", key),
		zap.Int("rows", len(req.Rows)),
		zap.Bool("created", !exists))
	return &models.WriteResult{Table: key, RowsWritten: int64(len(req.Rows)), Created: !exists}, nil
}

// ListSources lists parseable objects under the prefix.
func (b *ObjectBackend) ListSources(ctx context.Context) ([]models.SourceEntry, error) {
	entries, err := b.Store.List(ctx, b.Prefix)
	if err != nil {
		return nil, err
	}
	out := []models.SourceEntry{}
	for _, e := range entries {
		if Supported(e.Path) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close closes the store when it holds resources.
func (b *ObjectBackend) Close() error {
	if c, ok := b.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var (
	_ Capability   = (*ObjectBackend)(nil)
	_ SourceLister = (*ObjectBackend)(nil)
)
