package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

func TestConnectorsHandler_RequiresAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/connectors", nil, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if s.scopeCalls != 0 {
		t.Errorf("database scope acquired for an unauthenticated request")
	}
}

func TestConnectorsHandler_Create(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/connectors", ConnectorRequest{
		Name:          "warehouse",
		Type:          "postgres",
		ConnectorType: models.ConnectorDestination,
		ConnectionDetails: map[string]any{
			"host": "db.internal", "port": 5432, "database": "dw",
			"username": "etl", "password": "s3cret",
		},
	}, s.user)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if s.connectors.gotOwner != s.user.ID {
		t.Errorf("owner = %v, want %v", s.connectors.gotOwner, s.user.ID)
	}
	if s.connectors.gotCreate.ConnectionDetails["password"] != "s3cret" {
		t.Errorf("service did not receive the password")
	}

	body := rec.Body.String()
	if strings.Contains(body, "s3cret") {
		t.Errorf("response leaked the password: %s", body)
	}
	var resp ConnectorResponse
	decodeData(t, rec, &resp)
	if resp.ConnectorType != models.ConnectorDestination {
		t.Errorf("connector_type = %q, want %q", resp.ConnectorType, models.ConnectorDestination)
	}
	if resp.ConnectionDetails["host"] != "db.internal" {
		t.Errorf("host should not be masked, got %v", resp.ConnectionDetails["host"])
	}
}

func TestConnectorsHandler_Create_ValidationError(t *testing.T) {
	s := newTestServer(t)
	s.connectors.err = apperrors.MissingField("database")

	rec := s.do(t, http.MethodPost, "/api/connectors", ConnectorRequest{Name: "x", Type: "postgres", ConnectorType: "source"}, s.user)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	body := decodeError(t, rec)
	if body["error"] != "validation_error" || !strings.Contains(body["message"], "database") {
		t.Errorf("unexpected error body: %v", body)
	}
}

func TestConnectorsHandler_ErrorKinds(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", apperrors.NotFound("connector", id.String()), http.StatusNotFound},
		{"forbidden", fmt.Errorf("connector %s: %w", id, apperrors.ErrForbidden), http.StatusForbidden},
		{"backend", apperrors.Backend("connect", fmt.Errorf("dial tcp: refused")), http.StatusBadGateway},
	}

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/connectors/" + id.String()},
		{http.MethodDelete, "/api/connectors/" + id.String()},
		{http.MethodPost, "/api/connectors/" + id.String() + "/test"},
		{http.MethodGet, "/api/connectors/" + id.String() + "/sources"},
	}

	for _, tt := range tests {
		for _, route := range routes {
			t.Run(tt.name+" "+route.method+" "+route.path, func(t *testing.T) {
				s := newTestServer(t)
				s.connectors.err = tt.err

				rec := s.do(t, route.method, route.path, nil, s.user)

				if rec.Code != tt.wantStatus {
					t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
				}
				if s.connectors.gotID != id {
					t.Errorf("service got id %v, want %v", s.connectors.gotID, id)
				}
			})
		}
	}
}

func TestConnectorsHandler_InvalidID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/connectors/not-a-uuid", nil, s.user)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if body := decodeError(t, rec); body["error"] != "invalid_connector_id" {
		t.Errorf("error = %q, want invalid_connector_id", body["error"])
	}
}

func TestConnectorsHandler_ListFilter(t *testing.T) {
	s := newTestServer(t)
	s.connectors.connectors = []*models.Connector{
		{ID: uuid.New(), Name: "a", Type: "csv", ConnectorType: models.ConnectorSource},
	}

	rec := s.do(t, http.MethodGet, "/api/connectors?connector_type=source", nil, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if s.connectors.gotFilter != models.ConnectorSource {
		t.Errorf("filter = %q, want source", s.connectors.gotFilter)
	}
	var items []ConnectorResponse
	decodeData(t, rec, &items)
	if len(items) != 1 || items[0].Name != "a" {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestConnectorsHandler_Update(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()
	s.connectors.connector = &models.Connector{ID: id, Name: "renamed", Type: "csv", ConnectorType: models.ConnectorSource}

	rec := s.do(t, http.MethodPatch, "/api/connectors/"+id.String(), map[string]any{"name": "renamed"}, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	upd := s.connectors.gotUpdate
	if upd.Name == nil || *upd.Name != "renamed" {
		t.Errorf("name not passed through: %+v", upd)
	}
	if upd.Type != nil || upd.ConnectorType != nil || upd.FilePath != nil {
		t.Errorf("omitted fields should stay nil: %+v", upd)
	}
}

func TestConnectorsHandler_Delete(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()

	rec := s.do(t, http.MethodDelete, "/api/connectors/"+id.String(), nil, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !s.connectors.deleted {
		t.Error("service Delete was not called")
	}
}

func TestConnectorsHandler_TestFailureIsNotAnError(t *testing.T) {
	s := newTestServer(t)
	s.connectors.testResult = &models.ConnectionTestResult{Success: false, Type: "mysql", Operation: "test", Error: "connection refused"}

	rec := s.do(t, http.MethodPost, "/api/connectors/"+uuid.NewString()+"/test", nil, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var result models.ConnectionTestResult
	decodeData(t, rec, &result)
	if result.Success || result.Error != "connection refused" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestConnectorsHandler_Write(t *testing.T) {
	s := newTestServer(t)
	s.connectors.writeResult = &models.WriteResult{Table: "orders", RowsWritten: 2}

	rec := s.do(t, http.MethodPost, "/api/connectors/"+uuid.NewString()+"/write", WriteRowsRequest{
		Table:  "orders",
		Rows:   []map[string]any{{"id": 1}, {"id": 2}},
		Schema: []models.ColumnDefinition{{Name: "id", Type: "INTEGER"}},
	}, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	got := s.connectors.gotWrite
	if got.Table != "orders" || len(got.Rows) != 2 || len(got.Schema) != 1 {
		t.Errorf("unexpected write request: %+v", got)
	}
	var result models.WriteResult
	decodeData(t, rec, &result)
	if result.RowsWritten != 2 {
		t.Errorf("rows_written = %d, want 2", result.RowsWritten)
	}
}

func TestConnectorsHandler_WriteToSourceIsRejected(t *testing.T) {
	s := newTestServer(t)
	s.connectors.err = apperrors.NewValidationError("connector_type", "source connectors do not accept writes")

	rec := s.do(t, http.MethodPost, "/api/connectors/"+uuid.NewString()+"/write", WriteRowsRequest{Table: "t", Rows: []map[string]any{{"a": 1}}}, s.user)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if resp := decodeError(t, rec); resp["error"] != "validation_error" {
		t.Errorf("expected validation_error, got %q", resp["error"])
	}
}

func TestConnectorsHandler_Read(t *testing.T) {
	s := newTestServer(t)
	s.connectors.samples = []*models.Sample{{Source: "orders.csv", Columns: []string{"id"}, Rows: []map[string]any{{"id": "1"}}}}

	rec := s.do(t, http.MethodPost, "/api/connectors/"+uuid.NewString()+"/read", ReadRequest{Sources: []string{"orders.csv"}, Limit: 25}, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if len(s.connectors.gotSources) != 1 || s.connectors.gotLimit != 25 {
		t.Errorf("unexpected read args: %v %d", s.connectors.gotSources, s.connectors.gotLimit)
	}
}

func TestConnectorsHandler_ListTypes(t *testing.T) {
	s := newTestServer(t)
	s.connectors.types = []connector.Info{{Type: "csv", Family: connector.FamilyFile}}

	rec := s.do(t, http.MethodGet, "/api/connectors/types", nil, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var types []connector.Info
	decodeData(t, rec, &types)
	if len(types) != 1 || types[0].Type != "csv" {
		t.Errorf("unexpected types: %+v", types)
	}
	if s.scopeCalls != 0 {
		t.Error("type catalog should not need a database scope")
	}
}

func TestToConnectorResponse_MasksURI(t *testing.T) {
	resp := toConnectorResponse(&models.Connector{
		ID:            uuid.New(),
		ConnectionURI: "postgres://etl:hunter2@db:5432/dw",
	})
	if strings.Contains(resp.ConnectionURI, "hunter2") {
		t.Errorf("uri not masked: %s", resp.ConnectionURI)
	}
}
