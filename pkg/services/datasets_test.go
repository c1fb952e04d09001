package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/audit"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/prompts"
)

type memoryPreviewCache struct {
	entries map[string]*models.Sample
	gets    []string
}

func (c *memoryPreviewCache) Get(_ context.Context, key string) (*models.Sample, bool) {
	c.gets = append(c.gets, key)
	s, ok := c.entries[key]
	return s, ok
}

func (c *memoryPreviewCache) Set(_ context.Context, key string, sample *models.Sample) {
	c.entries[key] = sample
}

type mockChatter struct {
	configID int64
	ownerID  uuid.UUID
	req      *models.ChatRequest
	resp     *models.ChatResponse
	err      error
}

func (m *mockChatter) Chat(_ context.Context, configID int64, ownerID uuid.UUID, req *models.ChatRequest) (*models.ChatResponse, error) {
	m.configID = configID
	m.ownerID = ownerID
	m.req = req
	return m.resp, m.err
}

func (e *testEnv) createDataset(t *testing.T, owner uuid.UUID, conn *models.Connector, name string) *models.Dataset {
	t.Helper()
	d, err := e.datasets.Create(context.Background(), owner, &models.Dataset{
		Name:        name,
		ConnectorID: conn.ID,
		SourceType:  models.SourceTypeDatabase,
		SourcePath:  "public." + name,
	})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	return d
}

func TestDatasetService_Create(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)

	d := env.createDataset(t, owner, conn, "orders")

	assert.NotZero(t, d.ID)
	assert.Equal(t, owner, d.UserID)
	require.NotNil(t, d.SchemaInfo)
	assert.Equal(t, models.SchemaKindTable, d.SchemaInfo.Kind)
	assert.NotNil(t, d.Metadata)
	assert.Equal(t, []string{"public.orders"}, env.backend.inferred)
	assert.True(t, env.activity.has(models.ActionDatasetCreate))
}

func TestDatasetService_Create_InferenceFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	env.backend.openErr = errors.New("connection refused")

	_, err := env.datasets.Create(context.Background(), owner, &models.Dataset{
		Name:        "orders",
		ConnectorID: conn.ID,
		SourceType:  models.SourceTypeDatabase,
		SourcePath:  "public.orders",
	})

	assert.True(t, errors.Is(err, apperrors.ErrBackend))
	assert.Zero(t, env.datasetRepo.createCalls)
}

func TestDatasetService_Create_Validation(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)

	tests := []struct {
		name    string
		dataset models.Dataset
		field   string
	}{
		{"missing name", models.Dataset{ConnectorID: conn.ID, SourceType: "database"}, "name"},
		{"missing connector", models.Dataset{Name: "d", SourceType: "database"}, "connector_id"},
		{"unknown source type", models.Dataset{Name: "d", ConnectorID: conn.ID, SourceType: "ftp"}, "source_type"},
		{"unsupported source type", models.Dataset{Name: "d", ConnectorID: conn.ID, SourceType: "api"}, "source_type"},
		{"family mismatch", models.Dataset{Name: "d", ConnectorID: conn.ID, SourceType: "file"}, "source_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.dataset
			_, err := env.datasets.Create(context.Background(), owner, &d)
			assert.Equal(t, tt.field, validationField(t, err))
		})
	}
	assert.Zero(t, env.datasetRepo.createCalls)
	assert.Zero(t, env.backend.opens)
}

func TestDatasetService_Create_ForeignConnector(t *testing.T) {
	env := newTestEnv(t)
	conn := env.createDBConnector(t, uuid.New(), "warehouse", models.ConnectorSource)

	_, err := env.datasets.Create(context.Background(), uuid.New(), &models.Dataset{
		Name:        "orders",
		ConnectorID: conn.ID,
		SourceType:  models.SourceTypeDatabase,
	})

	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	assert.Zero(t, env.datasetRepo.createCalls)
}

func TestDatasetService_List(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	for _, name := range []string{"orders", "order_items", "customers"} {
		env.createDataset(t, owner, conn, name)
	}
	ctx := context.Background()

	page, err := env.datasets.List(ctx, owner, models.DatasetFilter{Search: " ORDER "})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, DefaultDatasetPageSize, env.datasetRepo.lastFilter.Limit)
	assert.Equal(t, "ORDER", env.datasetRepo.lastFilter.Search)

	page, err = env.datasets.List(ctx, owner, models.DatasetFilter{Skip: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 1)

	for _, bad := range []models.DatasetFilter{
		{Limit: -1},
		{Limit: MaxDatasetPageSize + 1},
		{Skip: -1},
		{SourceType: "ftp"},
	} {
		_, err := env.datasets.List(ctx, owner, bad)
		assert.True(t, errors.Is(err, apperrors.ErrValidation), "filter %+v", bad)
	}
}

func TestDatasetService_OwnershipIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	intruder := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	d := env.createDataset(t, owner, conn, "orders")
	ctx := context.Background()

	checks := map[string]func() error{
		"get":     func() error { _, err := env.datasets.Get(ctx, d.ID, intruder); return err },
		"delete":  func() error { return env.datasets.Delete(ctx, d.ID, intruder) },
		"refresh": func() error { _, err := env.datasets.RefreshSchema(ctx, d.ID, intruder); return err },
		"preview": func() error { _, err := env.datasets.Preview(ctx, d.ID, intruder, 5); return err },
		"add transformation": func() error {
			_, err := env.datasets.AddTransformation(ctx, d.ID, intruder, &models.Transformation{Name: "n", Type: "filter"})
			return err
		},
	}
	for name, call := range checks {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(call(), apperrors.ErrForbidden))
		})
	}

	_, err := env.datasets.Get(ctx, d.ID+100, owner)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDatasetService_Update(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	d := env.createDataset(t, owner, conn, "orders")

	blank := "  "
	_, err := env.datasets.Update(context.Background(), d.ID, owner, &models.DatasetUpdate{Name: &blank})
	assert.Equal(t, "name", validationField(t, err))

	desc := "All orders"
	got, err := env.datasets.Update(context.Background(), d.ID, owner, &models.DatasetUpdate{
		Description: &desc,
		Metadata:    map[string]any{"team": "growth"},
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, "All orders", got.Description)
	assert.Equal(t, "growth", got.Metadata["team"])
}

func TestDatasetService_TransformationsFollowOrder(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	d := env.createDataset(t, owner, conn, "orders")
	ctx := context.Background()

	for _, step := range []struct {
		name  string
		order int
	}{{"dedupe", 2}, {"filter", 1}, {"rename", 2}, {"cast", 0}} {
		_, err := env.datasets.AddTransformation(ctx, d.ID, owner, &models.Transformation{
			Name:  step.name,
			Type:  step.name,
			Order: step.order,
		})
		require.NoError(t, err)
	}

	got, err := env.datasets.Get(ctx, d.ID, owner)
	require.NoError(t, err)
	var names []string
	for _, tr := range got.Transformations {
		names = append(names, tr.Name)
	}
	assert.Equal(t, []string{"cast", "filter", "dedupe", "rename"}, names)

	_, err = env.datasets.AddTransformation(ctx, d.ID, owner, &models.Transformation{Name: "x"})
	assert.Equal(t, "type", validationField(t, err))

	require.NoError(t, env.datasets.DeleteTransformation(ctx, d.ID, got.Transformations[0].ID, owner))
	list, err := env.datasets.ListTransformations(ctx, d.ID, owner)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	err = env.datasets.DeleteTransformation(ctx, d.ID, 9999, owner)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDatasetService_Delete(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	d := env.createDataset(t, owner, conn, "orders")
	_, err := env.datasets.AddTransformation(context.Background(), d.ID, owner, &models.Transformation{Name: "f", Type: "filter"})
	require.NoError(t, err)

	require.NoError(t, env.datasets.Delete(context.Background(), d.ID, owner))
	assert.Empty(t, env.datasetRepo.transformations[d.ID])
	assert.True(t, env.activity.has(models.ActionDatasetDelete))

	_, err = env.datasets.Get(context.Background(), d.ID, owner)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDatasetService_RefreshSchema(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	d := env.createDataset(t, owner, conn, "orders")

	env.backend.snapshot = &models.SchemaSnapshot{
		Kind:     models.SchemaKindTable,
		RowCount: 42,
		Columns: []models.ColumnProfile{
			{Name: "id", Type: models.ColumnTypeInteger},
			{Name: "total", Type: models.ColumnTypeFloat},
		},
	}
	got, err := env.datasets.RefreshSchema(context.Background(), d.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.SchemaInfo.RowCount)
	assert.Len(t, env.datasetRepo.datasets[d.ID].SchemaInfo.Columns, 2)
}

func TestDatasetService_Preview(t *testing.T) {
	env := newTestEnv(t)
	cache := &memoryPreviewCache{entries: map[string]*models.Sample{}}
	inferrer := NewSchemaInferrer(env.connectors, env.cfg, zap.NewNop())
	env.datasets = NewDatasetService(env.datasetRepo, env.connectors, inferrer, cache, nil, env.cfg,
		env.activity, audit.NewSecurityAuditor(zap.NewNop()), zap.NewNop())

	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	d := env.createDataset(t, owner, conn, "orders")
	_, err := env.datasets.AddTransformation(context.Background(), d.ID, owner, &models.Transformation{Name: "f", Type: "filter"})
	require.NoError(t, err)
	opensBefore := env.backend.opens

	first, err := env.datasets.Preview(context.Background(), d.ID, owner, 0)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, first.Transformations, 1)
	assert.Equal(t, env.cfg.PreviewRows, env.backend.lastLimit)
	assert.Equal(t, []string{"public.orders"}, env.backend.sampled)

	second, err := env.datasets.Preview(context.Background(), d.ID, owner, 0)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Sample, second.Sample)
	assert.Equal(t, opensBefore+1, env.backend.opens, "cached preview must not reach the backend")
}

func TestDatasetService_Describe(t *testing.T) {
	env := newTestEnv(t)
	chat := &mockChatter{resp: &models.ChatResponse{Content: "Orders placed by customers."}}
	inferrer := NewSchemaInferrer(env.connectors, env.cfg, zap.NewNop())
	env.datasets = NewDatasetService(env.datasetRepo, env.connectors, inferrer, nil, chat, env.cfg,
		env.activity, audit.NewSecurityAuditor(zap.NewNop()), zap.NewNop())

	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	d := env.createDataset(t, owner, conn, "orders")

	resp, err := env.datasets.Describe(context.Background(), d.ID, owner, 7)
	require.NoError(t, err)
	assert.Equal(t, "Orders placed by customers.", resp.Content)
	assert.Equal(t, int64(7), chat.configID)
	assert.Equal(t, owner, chat.ownerID)
	require.Len(t, chat.req.Messages, 1)
	assert.Equal(t, "user", chat.req.Messages[0].Role)
	assert.Contains(t, chat.req.Messages[0].Content, "orders")
	assert.Equal(t, prompts.TemplateAnalyst, chat.req.Template)
}

func TestDatasetService_Describe_WithoutChat(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	conn := env.createDBConnector(t, owner, "warehouse", models.ConnectorSource)
	d := env.createDataset(t, owner, conn, "orders")

	_, err := env.datasets.Describe(context.Background(), d.ID, owner, 1)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
