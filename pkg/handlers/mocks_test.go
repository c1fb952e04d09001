package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/llm"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/prompts"
	"github.com/datasaki/datasaki-engine/pkg/services"
	"github.com/datasaki/datasaki-engine/pkg/testhelpers"
)

type mockConnectorService struct {
	services.ConnectorService

	connector   *models.Connector
	connectors  []*models.Connector
	testResult  *models.ConnectionTestResult
	writeResult *models.WriteResult
	samples     []*models.Sample
	sources     []models.SourceEntry
	types       []connector.Info
	err         error

	gotOwner   uuid.UUID
	gotID      uuid.UUID
	gotCreate  *models.Connector
	gotUpdate  *models.ConnectorUpdate
	gotWrite   connector.WriteRequest
	gotSources []string
	gotLimit   int
	gotFilter  string
	deleted    bool
}

func (m *mockConnectorService) Create(_ context.Context, ownerID uuid.UUID, c *models.Connector) (*models.Connector, error) {
	m.gotOwner, m.gotCreate = ownerID, c
	if m.err != nil {
		return nil, m.err
	}
	out := *c
	out.ID = uuid.New()
	out.UserID = ownerID
	return &out, nil
}

func (m *mockConnectorService) Get(_ context.Context, id, ownerID uuid.UUID) (*models.Connector, error) {
	m.gotID, m.gotOwner = id, ownerID
	return m.connector, m.err
}

func (m *mockConnectorService) List(_ context.Context, ownerID uuid.UUID, connectorType string) ([]*models.Connector, error) {
	m.gotOwner, m.gotFilter = ownerID, connectorType
	return m.connectors, m.err
}

func (m *mockConnectorService) Update(_ context.Context, id, ownerID uuid.UUID, upd *models.ConnectorUpdate) (*models.Connector, error) {
	m.gotID, m.gotOwner, m.gotUpdate = id, ownerID, upd
	return m.connector, m.err
}

func (m *mockConnectorService) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	m.gotID, m.gotOwner = id, ownerID
	if m.err == nil {
		m.deleted = true
	}
	return m.err
}

func (m *mockConnectorService) Test(_ context.Context, id, ownerID uuid.UUID) (*models.ConnectionTestResult, error) {
	m.gotID, m.gotOwner = id, ownerID
	return m.testResult, m.err
}

func (m *mockConnectorService) Write(_ context.Context, id, ownerID uuid.UUID, req connector.WriteRequest) (*models.WriteResult, error) {
	m.gotID, m.gotOwner, m.gotWrite = id, ownerID, req
	return m.writeResult, m.err
}

func (m *mockConnectorService) Read(_ context.Context, id, ownerID uuid.UUID, sources []string, limit int) ([]*models.Sample, error) {
	m.gotID, m.gotOwner, m.gotSources, m.gotLimit = id, ownerID, sources, limit
	return m.samples, m.err
}

func (m *mockConnectorService) ListSources(_ context.Context, id, ownerID uuid.UUID) ([]models.SourceEntry, error) {
	m.gotID, m.gotOwner = id, ownerID
	return m.sources, m.err
}

func (m *mockConnectorService) ListTypes() []connector.Info {
	return m.types
}

type mockDatasetService struct {
	services.DatasetService

	dataset         *models.Dataset
	page            *models.DatasetPage
	transformations []*models.Transformation
	preview         *models.DatasetPreview
	chat            *models.ChatResponse
	err             error

	gotOwner     uuid.UUID
	gotID        int64
	gotTID       int64
	gotLLMID     int64
	gotLimit     int
	gotFilter    models.DatasetFilter
	gotCreate    *models.Dataset
	gotUpdate    *models.DatasetUpdate
	gotTransform *models.Transformation
}

func (m *mockDatasetService) Create(_ context.Context, ownerID uuid.UUID, d *models.Dataset) (*models.Dataset, error) {
	m.gotOwner, m.gotCreate = ownerID, d
	if m.err != nil {
		return nil, m.err
	}
	out := *d
	out.ID = 1
	return &out, nil
}

func (m *mockDatasetService) Get(_ context.Context, id int64, ownerID uuid.UUID) (*models.Dataset, error) {
	m.gotID, m.gotOwner = id, ownerID
	return m.dataset, m.err
}

func (m *mockDatasetService) List(_ context.Context, ownerID uuid.UUID, filter models.DatasetFilter) (*models.DatasetPage, error) {
	m.gotOwner, m.gotFilter = ownerID, filter
	return m.page, m.err
}

func (m *mockDatasetService) Update(_ context.Context, id int64, ownerID uuid.UUID, upd *models.DatasetUpdate) (*models.Dataset, error) {
	m.gotID, m.gotOwner, m.gotUpdate = id, ownerID, upd
	return m.dataset, m.err
}

func (m *mockDatasetService) Delete(_ context.Context, id int64, ownerID uuid.UUID) error {
	m.gotID, m.gotOwner = id, ownerID
	return m.err
}

func (m *mockDatasetService) AddTransformation(_ context.Context, datasetID int64, ownerID uuid.UUID, t *models.Transformation) (*models.Transformation, error) {
	m.gotID, m.gotOwner, m.gotTransform = datasetID, ownerID, t
	if m.err != nil {
		return nil, m.err
	}
	out := *t
	out.ID = 9
	out.DatasetID = datasetID
	return &out, nil
}

func (m *mockDatasetService) ListTransformations(_ context.Context, datasetID int64, ownerID uuid.UUID) ([]*models.Transformation, error) {
	m.gotID, m.gotOwner = datasetID, ownerID
	return m.transformations, m.err
}

func (m *mockDatasetService) DeleteTransformation(_ context.Context, datasetID, transformationID int64, ownerID uuid.UUID) error {
	m.gotID, m.gotTID, m.gotOwner = datasetID, transformationID, ownerID
	return m.err
}

func (m *mockDatasetService) RefreshSchema(_ context.Context, id int64, ownerID uuid.UUID) (*models.Dataset, error) {
	m.gotID, m.gotOwner = id, ownerID
	return m.dataset, m.err
}

func (m *mockDatasetService) Preview(_ context.Context, id int64, ownerID uuid.UUID, limit int) (*models.DatasetPreview, error) {
	m.gotID, m.gotOwner, m.gotLimit = id, ownerID, limit
	return m.preview, m.err
}

func (m *mockDatasetService) Describe(_ context.Context, id int64, ownerID uuid.UUID, llmConfigID int64) (*models.ChatResponse, error) {
	m.gotID, m.gotOwner, m.gotLLMID = id, ownerID, llmConfigID
	return m.chat, m.err
}

type mockIdentityService struct {
	user  *models.User
	token *auth.AccessToken
	err   error

	gotRegistration services.Registration
	gotEmail        string
	gotPassword     string
	gotProfile      *auth.GoogleUser
	gotUserID       uuid.UUID
}

func (m *mockIdentityService) Register(_ context.Context, in services.Registration) (*models.User, error) {
	m.gotRegistration = in
	return m.user, m.err
}

func (m *mockIdentityService) Login(_ context.Context, email, password string) (*auth.AccessToken, *models.User, error) {
	m.gotEmail, m.gotPassword = email, password
	return m.token, m.user, m.err
}

func (m *mockIdentityService) LoginWithGoogle(_ context.Context, profile *auth.GoogleUser) (*auth.AccessToken, *models.User, error) {
	m.gotProfile = profile
	return m.token, m.user, m.err
}

func (m *mockIdentityService) Me(_ context.Context, userID uuid.UUID) (*models.User, error) {
	m.gotUserID = userID
	return m.user, m.err
}

type mockGoogleOAuth struct {
	profile  *auth.GoogleUser
	err      error
	gotState string
	gotCode  string
}

func (m *mockGoogleOAuth) AuthCodeURL(state string) string {
	m.gotState = state
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockGoogleOAuth) Exchange(_ context.Context, code string) (*auth.GoogleUser, error) {
	m.gotCode = code
	return m.profile, m.err
}

type mockLLMService struct {
	config    *models.LLMConfig
	configs   []*models.LLMConfig
	total     int64
	chat      *models.ChatResponse
	providers []llm.ProviderInfo
	templates []prompts.Template
	err       error

	gotOwner  uuid.UUID
	gotID     int64
	gotSkip   int
	gotLimit  int
	gotCreate *models.LLMConfig
	gotUpdate *models.LLMConfigUpdate
	gotChat   *models.ChatRequest
}

func (m *mockLLMService) CreateConfig(_ context.Context, ownerID uuid.UUID, cfg *models.LLMConfig) (*models.LLMConfig, error) {
	m.gotOwner, m.gotCreate = ownerID, cfg
	if m.err != nil {
		return nil, m.err
	}
	out := *cfg
	out.ID = 3
	out.HasAPIKey = cfg.APIKey != ""
	return &out, nil
}

func (m *mockLLMService) ListConfigs(_ context.Context, ownerID uuid.UUID, skip, limit int) ([]*models.LLMConfig, int64, error) {
	m.gotOwner, m.gotSkip, m.gotLimit = ownerID, skip, limit
	return m.configs, m.total, m.err
}

func (m *mockLLMService) GetConfig(_ context.Context, id int64, ownerID uuid.UUID) (*models.LLMConfig, error) {
	m.gotID, m.gotOwner = id, ownerID
	return m.config, m.err
}

func (m *mockLLMService) UpdateConfig(_ context.Context, id int64, ownerID uuid.UUID, upd *models.LLMConfigUpdate) (*models.LLMConfig, error) {
	m.gotID, m.gotOwner, m.gotUpdate = id, ownerID, upd
	return m.config, m.err
}

func (m *mockLLMService) DeleteConfig(_ context.Context, id int64, ownerID uuid.UUID) error {
	m.gotID, m.gotOwner = id, ownerID
	return m.err
}

func (m *mockLLMService) Chat(_ context.Context, configID int64, ownerID uuid.UUID, req *models.ChatRequest) (*models.ChatResponse, error) {
	m.gotID, m.gotOwner, m.gotChat = configID, ownerID, req
	return m.chat, m.err
}

func (m *mockLLMService) Providers() []llm.ProviderInfo { return m.providers }

func (m *mockLLMService) Templates() []prompts.Template { return m.templates }

type mockLogService struct {
	requests *services.LogPage[*models.RequestLog]
	activity *services.LogPage[*models.ActivityLog]
	err      error

	gotSkip, gotLimit int
}

func (m *mockLogService) ListRequests(_ context.Context, skip, limit int) (*services.LogPage[*models.RequestLog], error) {
	m.gotSkip, m.gotLimit = skip, limit
	return m.requests, m.err
}

func (m *mockLogService) ListActivity(_ context.Context, skip, limit int) (*services.LogPage[*models.ActivityLog], error) {
	m.gotSkip, m.gotLimit = skip, limit
	return m.activity, m.err
}

var (
	_ services.ConnectorService = (*mockConnectorService)(nil)
	_ services.DatasetService   = (*mockDatasetService)(nil)
	_ services.IdentityService  = (*mockIdentityService)(nil)
	_ services.LLMService       = (*mockLLMService)(nil)
	_ services.LogService       = (*mockLogService)(nil)
	_ auth.GoogleOAuth          = (*mockGoogleOAuth)(nil)
)

// testServer routes requests through the real mux and auth middleware with
// mocked services behind them.
type testServer struct {
	mux        *http.ServeMux
	issuer     *auth.TokenIssuer
	user       *models.User
	admin      *models.User
	connectors *mockConnectorService
	datasets   *mockDatasetService
	identity   *mockIdentityService
	google     *mockGoogleOAuth
	llm        *mockLLMService
	logs       *mockLogService
	scopeCalls int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	issuer, err := auth.NewTokenIssuer(testhelpers.TestTokenSecret, 0)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	auth.InitSessionStore("handlers-test-session", auth.CookieSettings{})

	s := &testServer{
		mux:        http.NewServeMux(),
		issuer:     issuer,
		user:       &models.User{ID: uuid.New(), Email: "user@acme.io", Roles: []string{models.RoleUser}, IsActive: true},
		admin:      &models.User{ID: uuid.New(), Email: "admin@acme.io", Roles: []string{models.RoleAdmin}, IsActive: true},
		connectors: &mockConnectorService{},
		datasets:   &mockDatasetService{},
		identity:   &mockIdentityService{},
		google:     &mockGoogleOAuth{},
		llm:        &mockLLMService{},
		logs:       &mockLogService{},
	}

	authMiddleware := auth.NewMiddleware(auth.NewAuthService(issuer, nil, logger), logger)
	scope := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			s.scopeCalls++
			next(w, r)
		}
	}

	NewAuthHandler(s.identity, s.google, auth.CookieSettings{}, logger).RegisterRoutes(s.mux, authMiddleware, scope)
	NewConnectorsHandler(s.connectors, logger).RegisterRoutes(s.mux, authMiddleware, scope)
	NewDatasetsHandler(s.datasets, logger).RegisterRoutes(s.mux, authMiddleware, scope)
	NewLLMHandler(s.llm, logger).RegisterRoutes(s.mux, authMiddleware, scope)
	NewLogsHandler(s.logs, logger).RegisterRoutes(s.mux, authMiddleware, scope)
	return s
}

// do sends a request as user; a nil user sends it unauthenticated.
func (s *testServer) do(t *testing.T, method, path string, body any, user *models.User) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		token, err := s.issuer.Issue(user)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	}

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

// decodeData unpacks the ApiResponse envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !envelope.Success {
		t.Fatalf("expected success envelope, got body with status %d", rec.Code)
	}
	if dst != nil {
		if err := json.Unmarshal(envelope.Data, dst); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// withUser attaches claims for userID the way RequireAuth does.
func withUser(r *http.Request, userID uuid.UUID) *http.Request {
	claims := &auth.Claims{}
	claims.Subject = userID.String()
	return r.WithContext(auth.WithClaims(r.Context(), claims, "test-token"))
}
