package services

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/file"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/audit"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/crypto"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
)

// mockConnectorRepository keeps connectors in memory.
type mockConnectorRepository struct {
	mu         sync.Mutex
	connectors map[uuid.UUID]*models.Connector
	secrets    map[uuid.UUID]repositories.ConnectorSecrets
	order      []uuid.UUID
	deleted    []uuid.UUID
	createErr  error
}

func newMockConnectorRepository() *mockConnectorRepository {
	return &mockConnectorRepository{
		connectors: map[uuid.UUID]*models.Connector{},
		secrets:    map[uuid.UUID]repositories.ConnectorSecrets{},
	}
}

func cloneConnector(c *models.Connector) *models.Connector {
	cp := *c
	cp.ConnectionDetails = nil
	cp.ConnectionURI = ""
	return &cp
}

func (m *mockConnectorRepository) Create(_ context.Context, c *models.Connector, s repositories.ConnectorSecrets) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.connectors {
		if existing.UserID == c.UserID && existing.Name == c.Name {
			return apperrors.ErrConflict
		}
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	m.connectors[c.ID] = cloneConnector(c)
	m.secrets[c.ID] = s
	m.order = append(m.order, c.ID)
	return nil
}

func (m *mockConnectorRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Connector, repositories.ConnectorSecrets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connectors[id]
	if !ok {
		return nil, repositories.ConnectorSecrets{}, apperrors.NotFound("connector", id.String())
	}
	return cloneConnector(c), m.secrets[id], nil
}

func (m *mockConnectorRepository) List(_ context.Context, userID uuid.UUID, connectorType string) ([]*models.Connector, []repositories.ConnectorSecrets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Connector
	var secrets []repositories.ConnectorSecrets
	for _, id := range m.order {
		c, ok := m.connectors[id]
		if !ok || c.UserID != userID {
			continue
		}
		if connectorType != "" && c.ConnectorType != connectorType {
			continue
		}
		out = append(out, cloneConnector(c))
		secrets = append(secrets, m.secrets[id])
	}
	return out, secrets, nil
}

func (m *mockConnectorRepository) Update(_ context.Context, c *models.Connector, s repositories.ConnectorSecrets) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connectors[c.ID]; !ok {
		return apperrors.NotFound("connector", c.ID.String())
	}
	c.UpdatedAt = time.Now().UTC()
	m.connectors[c.ID] = cloneConnector(c)
	m.secrets[c.ID] = s
	return nil
}

func (m *mockConnectorRepository) Delete(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connectors[id]; !ok {
		return 0, apperrors.NotFound("connector", id.String())
	}
	delete(m.connectors, id)
	m.deleted = append(m.deleted, id)
	return 0, nil
}

// mockDatasetRepository keeps datasets and transformations in memory.
type mockDatasetRepository struct {
	mu              sync.Mutex
	nextID          int64
	datasets        map[int64]*models.Dataset
	transformations map[int64][]*models.Transformation
	lastFilter      models.DatasetFilter
	createCalls     int
}

func newMockDatasetRepository() *mockDatasetRepository {
	return &mockDatasetRepository{
		datasets:        map[int64]*models.Dataset{},
		transformations: map[int64][]*models.Transformation{},
	}
}

func (m *mockDatasetRepository) Create(_ context.Context, d *models.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.nextID++
	d.ID = m.nextID
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	m.datasets[d.ID] = &cp
	return nil
}

func (m *mockDatasetRepository) GetByID(_ context.Context, id int64) (*models.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.datasets[id]
	if !ok {
		return nil, apperrors.NotFound("dataset", strconv.FormatInt(id, 10))
	}
	cp := *d
	return &cp, nil
}

func (m *mockDatasetRepository) List(_ context.Context, userID uuid.UUID, filter models.DatasetFilter) (*models.DatasetPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var matched []*models.Dataset
	for id := int64(1); id <= m.nextID; id++ {
		d, ok := m.datasets[id]
		if !ok || d.UserID != userID {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.SourceType != "" && d.SourceType != filter.SourceType {
			continue
		}
		matched = append(matched, d)
	}
	page := &models.DatasetPage{Total: int64(len(matched)), Items: []*models.Dataset{}}
	for i := filter.Skip; i < len(matched) && len(page.Items) < filter.Limit; i++ {
		page.Items = append(page.Items, matched[i])
	}
	return page, nil
}

func (m *mockDatasetRepository) Update(_ context.Context, d *models.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	m.datasets[d.ID] = &cp
	return nil
}

func (m *mockDatasetRepository) UpdateSchema(_ context.Context, id int64, snap *models.SchemaSnapshot) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.datasets[id]
	if !ok {
		return time.Time{}, apperrors.NotFound("dataset", strconv.FormatInt(id, 10))
	}
	d.SchemaInfo = snap
	d.UpdatedAt = time.Now().UTC()
	return d.UpdatedAt, nil
}

func (m *mockDatasetRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[id]; !ok {
		return apperrors.NotFound("dataset", strconv.FormatInt(id, 10))
	}
	delete(m.datasets, id)
	delete(m.transformations, id)
	return nil
}

func (m *mockDatasetRepository) AddTransformation(_ context.Context, t *models.Transformation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.transformations[t.DatasetID] = append(m.transformations[t.DatasetID], &cp)
	return nil
}

func (m *mockDatasetRepository) ListTransformations(_ context.Context, datasetID int64) ([]*models.Transformation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]*models.Transformation(nil), m.transformations[datasetID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockDatasetRepository) DeleteTransformation(_ context.Context, datasetID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.transformations[datasetID]
	for i, t := range list {
		if t.ID == id {
			m.transformations[datasetID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound("transformation", strconv.FormatInt(id, 10))
}

// mockActivity captures recorded actions.
type mockActivity struct {
	mu      sync.Mutex
	actions []string
	details []map[string]any
}

func (m *mockActivity) Record(_ context.Context, action string, _ *uuid.UUID, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	m.details = append(m.details, details)
}

func (m *mockActivity) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a == action {
			return true
		}
	}
	return false
}

// fakeBackend is a database-family capability that records every call.
type fakeBackend struct {
	mu        sync.Mutex
	opens     int
	tests     int
	writes    []connector.WriteRequest
	testErr   error
	writeErr  error
	sample    *models.Sample
	snapshot  *models.SchemaSnapshot
	inferred  []string
	sampled   []string
	closed    int
	openErr   error
	lastLimit int
}

type fakeCapability struct {
	backend *fakeBackend
}

func (b *fakeBackend) registration(typ string, family connector.Family) connector.Registration {
	return connector.Registration{
		Info: connector.Info{Type: typ, DisplayName: typ, Family: family, Writable: true},
		Open: func(context.Context, connector.Params, *zap.Logger) (connector.Capability, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.opens++
			if b.openErr != nil {
				return nil, b.openErr
			}
			return &fakeCapability{backend: b}, nil
		},
	}
}

func (c *fakeCapability) TestConnection(context.Context) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.tests++
	return c.backend.testErr
}

func (c *fakeCapability) ReadSample(_ context.Context, source string, limit int) (*models.Sample, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.sampled = append(c.backend.sampled, source)
	c.backend.lastLimit = limit
	if c.backend.sample != nil {
		return c.backend.sample, nil
	}
	return &models.Sample{Source: source, Columns: []string{"id"}, Rows: []map[string]any{{"id": 1}}}, nil
}

func (c *fakeCapability) WriteRows(_ context.Context, req connector.WriteRequest) (*models.WriteResult, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.writes = append(c.backend.writes, req)
	if c.backend.writeErr != nil {
		return nil, c.backend.writeErr
	}
	return &models.WriteResult{Table: req.Table, RowsWritten: int64(len(req.Rows))}, nil
}

func (c *fakeCapability) InferSchema(_ context.Context, source string, limit int) (*models.SchemaSnapshot, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.inferred = append(c.backend.inferred, source)
	c.backend.lastLimit = limit
	if c.backend.snapshot != nil {
		return c.backend.snapshot, nil
	}
	return &models.SchemaSnapshot{
		Kind:     models.SchemaKindTable,
		RowCount: 3,
		Columns:  []models.ColumnProfile{{Name: "id", Type: models.ColumnTypeInteger}},
	}, nil
}

func (c *fakeCapability) ListSources(context.Context) ([]models.SourceEntry, error) {
	return []models.SourceEntry{{Name: "orders", Path: "public.orders"}}, nil
}

func (c *fakeCapability) Close() error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.closed++
	return nil
}

// testEnv wires the connector and dataset services over in-memory fakes.
type testEnv struct {
	connectorRepo *mockConnectorRepository
	datasetRepo   *mockDatasetRepository
	backend       *fakeBackend
	activity      *mockActivity
	connectors    ConnectorService
	datasets      DatasetService
	cfg           config.ConnectorsConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := &fakeBackend{}
	registry := connector.NewRegistry(zap.NewNop(), "")
	registry.MustRegister(file.Registrations()...)
	registry.MustRegister(backend.registration("fakedb", connector.FamilyDatabase))
	registry.MustRegister(connector.Registration{
		Info: connector.Info{
			Type:           "fakecloud",
			Family:         connector.FamilyCloud,
			RequiredFields: []string{"bucket", "region"},
		},
		Open: backend.registration("fakecloud", connector.FamilyCloud).Open,
	})

	secrets, err := crypto.NewSecretBox("services-test-key")
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	cfg := config.ConnectorsConfig{
		SampleRows:   1000,
		PreviewRows:  5,
		TestTimeout:  time.Second,
		WriteTimeout: time.Second,
		InferTimeout: time.Second,
	}
	env := &testEnv{
		connectorRepo: newMockConnectorRepository(),
		datasetRepo:   newMockDatasetRepository(),
		backend:       backend,
		activity:      &mockActivity{},
		cfg:           cfg,
	}
	auditor := audit.NewSecurityAuditor(zap.NewNop())
	env.connectors = NewConnectorService(env.connectorRepo, registry, secrets, cfg, env.activity, auditor, zap.NewNop())
	inferrer := NewSchemaInferrer(env.connectors, cfg, zap.NewNop())
	env.datasets = NewDatasetService(env.datasetRepo, env.connectors, inferrer, nil, nil, cfg, env.activity, auditor, zap.NewNop())
	return env
}

func dbDetails() map[string]any {
	return map[string]any{
		"host":     "db.internal",
		"port":     5432,
		"user":     "loader",
		"password": "s3cret",
		"database": "warehouse",
	}
}

func (e *testEnv) createDBConnector(t *testing.T, owner uuid.UUID, name, direction string) *models.Connector {
	t.Helper()
	c, err := e.connectors.Create(context.Background(), owner, &models.Connector{
		Name:              name,
		Type:              "fakedb",
		ConnectorType:     direction,
		ConnectionDetails: dbDetails(),
	})
	if err != nil {
		t.Fatalf("create connector: %v", err)
	}
	return c
}
