package connector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

type memStore struct {
	objects map[string][]byte
	puts    int
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, 0, apperrors.NotFound("object", key)
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Put(_ context.Context, key string, body []byte, _ string) error {
	m.objects[key] = append([]byte(nil), body...)
	m.puts++
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]models.SourceEntry, error) {
	var out []models.SourceEntry
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, models.SourceEntry{Name: k[strings.LastIndex(k, "/")+1:], Path: k, SizeBytes: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func newObjectBackend(store ObjectStore, prefix string) *ObjectBackend {
	return &ObjectBackend{Store: store, Prefix: prefix, Logger: zap.NewNop()}
}

func TestObjectBackend_Key(t *testing.T) {
	b := newObjectBackend(newMemStore(), "landing")

	key, err := b.Key("orders.csv")
	require.NoError(t, err)
	assert.Equal(t, "landing/orders.csv", key)

	key, err = b.Key("landing/orders.csv")
	require.NoError(t, err)
	assert.Equal(t, "landing/orders.csv", key)

	key, err = b.Key("/other/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "other/x.csv", key)

	_, err = b.Key("../secrets.csv")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	_, err = b.Key("  ")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestObjectBackend_WriteThenInfer(t *testing.T) {
	store := newMemStore()
	b := newObjectBackend(store, "")
	ctx := context.Background()

	res, err := b.WriteRows(ctx, WriteRequest{
		Table: "exports/people",
		Rows:  []map[string]any{{"name": "ada", "age": float64(36)}, {"name": "alan", "age": float64(41)}},
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "exports/people.csv", res.Table)
	assert.Equal(t, "age,name\n36,ada\n41,alan\n", string(store.objects["exports/people.csv"]))

	res, err = b.WriteRows(ctx, WriteRequest{
		Table: "exports/people.csv",
		Rows:  []map[string]any{{"name": "grace", "age": float64(45)}},
	})
	require.NoError(t, err)
	assert.False(t, res.Created)

	snap, err := b.InferSchema(ctx, "exports/people.csv", DefaultSampleLimit)
	require.NoError(t, err)
	assert.Equal(t, models.SchemaKindObject, snap.Kind)
	assert.Equal(t, int64(3), snap.RowCount)
	require.NotNil(t, snap.Column("age"))
	assert.Equal(t, models.ColumnTypeInteger, snap.Column("age").Type)
}

func TestObjectBackend_AppendKeepsExistingHeaderOrder(t *testing.T) {
	store := newMemStore()
	store.objects["t.csv"] = []byte("name,age")
	b := newObjectBackend(store, "")

	_, err := b.WriteRows(context.Background(), WriteRequest{
		Table: "t.csv",
		Rows:  []map[string]any{{"age": float64(9), "name": "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "name,age\nx,9\n", string(store.objects["t.csv"]))
}

func TestObjectBackend_ReadNamedSheet(t *testing.T) {
	wb := excelize.NewFile()
	_, err := wb.NewSheet("Totals")
	require.NoError(t, err)
	require.NoError(t, AppendSheetRows(wb, "Totals", 1, []string{"region"}, []map[string]any{{"region": "east"}}, true))
	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	store := newMemStore()
	store.objects["reports/book.xlsx"] = buf.Bytes()
	b := newObjectBackend(store, "reports")

	sample, err := b.ReadSample(context.Background(), "book.xlsx#Totals", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"region"}, sample.Columns)
	require.Len(t, sample.Rows, 1)
	assert.Equal(t, "east", sample.Rows[0]["region"])
}

func TestObjectBackend_ReadOnlyFormats(t *testing.T) {
	b := newObjectBackend(newMemStore(), "")
	_, err := b.WriteRows(context.Background(), WriteRequest{Table: "scan.pdf", Rows: []map[string]any{{"a": 1}}})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestObjectBackend_MissingObject(t *testing.T) {
	b := newObjectBackend(newMemStore(), "")
	_, err := b.ReadSample(context.Background(), "nope.csv", 10)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestObjectBackend_UnsupportedExtension(t *testing.T) {
	b := newObjectBackend(newMemStore(), "")
	_, err := b.ReadSample(context.Background(), "data.json", 10)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestObjectBackend_ListSourcesFiltersFormats(t *testing.T) {
	store := newMemStore()
	store.objects["in/a.csv"] = []byte("x\n1\n")
	store.objects["in/b.json"] = []byte("{}")
	store.objects["in/c.xlsx"] = []byte("")
	b := newObjectBackend(store, "in")

	got, err := b.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "in/a.csv", got[0].Path)
	assert.Equal(t, "in/c.xlsx", got[1].Path)
}
