package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

func TestDatasetsHandler_Create(t *testing.T) {
	s := newTestServer(t)
	connectorID := uuid.New()

	rec := s.do(t, http.MethodPost, "/api/datasets", DatasetRequest{
		Name:        "orders",
		ConnectorID: connectorID.String(),
		SourceType:  models.SourceTypeFile,
		SourcePath:  "orders.csv",
		Metadata:    map[string]any{"team": "finance"},
	}, s.user)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	got := s.datasets.gotCreate
	if got.ConnectorID != connectorID || got.SourcePath != "orders.csv" || got.Metadata["team"] != "finance" {
		t.Errorf("unexpected dataset passed to service: %+v", got)
	}
	if s.datasets.gotOwner != s.user.ID {
		t.Errorf("owner = %v, want %v", s.datasets.gotOwner, s.user.ID)
	}
}

func TestDatasetsHandler_Create_BadConnectorID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/datasets", DatasetRequest{Name: "x", ConnectorID: "nope"}, s.user)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if s.datasets.gotCreate != nil {
		t.Error("service should not be called with an unparseable connector id")
	}
}

func TestDatasetsHandler_Create_IncompatibleSource(t *testing.T) {
	s := newTestServer(t)
	s.datasets.err = apperrors.NewValidationError("source_type", "dataset source_type 'database' is incompatible with connector type 'csv'")

	rec := s.do(t, http.MethodPost, "/api/datasets", DatasetRequest{Name: "x", ConnectorID: uuid.NewString(), SourceType: "database"}, s.user)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestDatasetsHandler_List(t *testing.T) {
	s := newTestServer(t)
	s.datasets.page = &models.DatasetPage{Total: 25, Items: []*models.Dataset{{ID: 1, Name: "orders"}}}

	rec := s.do(t, http.MethodGet, "/api/datasets?skip=10&limit=5&search=ord&source_type=file", nil, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	want := models.DatasetFilter{Skip: 10, Limit: 5, Search: "ord", SourceType: "file"}
	if s.datasets.gotFilter != want {
		t.Errorf("filter = %+v, want %+v", s.datasets.gotFilter, want)
	}
	var page models.DatasetPage
	decodeData(t, rec, &page)
	if page.Total != 25 || len(page.Items) != 1 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestDatasetsHandler_List_BadLimit(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/datasets?limit=many", nil, s.user)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestDatasetsHandler_Get_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", apperrors.NotFound("dataset", "7"), http.StatusNotFound},
		{"forbidden", fmt.Errorf("dataset 7: %w", apperrors.ErrForbidden), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.datasets.err = tt.err

			rec := s.do(t, http.MethodGet, "/api/datasets/7", nil, s.user)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if s.datasets.gotID != 7 {
				t.Errorf("id = %d, want 7", s.datasets.gotID)
			}
		})
	}
}

func TestDatasetsHandler_Update(t *testing.T) {
	s := newTestServer(t)
	s.datasets.dataset = &models.Dataset{ID: 7, Name: "renamed"}

	rec := s.do(t, http.MethodPatch, "/api/datasets/7", map[string]any{"description": "nightly load"}, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	upd := s.datasets.gotUpdate
	if upd.Name != nil || upd.Description == nil || *upd.Description != "nightly load" {
		t.Errorf("unexpected update: %+v", upd)
	}
}

func TestDatasetsHandler_Delete(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodDelete, "/api/datasets/7", nil, s.user)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if s.datasets.gotID != 7 {
		t.Errorf("id = %d, want 7", s.datasets.gotID)
	}
}

func TestDatasetsHandler_Transformations(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/datasets/7/transformations", TransformationRequest{
		Name: "drop nulls", Type: "filter", Config: map[string]any{"column": "amount"}, Order: 2,
	}, s.user)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if s.datasets.gotTransform.Order != 2 || s.datasets.gotID != 7 {
		t.Errorf("unexpected transformation: %+v", s.datasets.gotTransform)
	}

	s.datasets.transformations = []*models.Transformation{{ID: 2, Order: 1}, {ID: 1, Order: 2}}
	rec = s.do(t, http.MethodGet, "/api/datasets/7/transformations", nil, s.user)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var items []models.Transformation
	decodeData(t, rec, &items)
	if len(items) != 2 || items[0].Order != 1 {
		t.Errorf("service order not preserved: %+v", items)
	}

	rec = s.do(t, http.MethodDelete, "/api/datasets/7/transformations/2", nil, s.user)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if s.datasets.gotID != 7 || s.datasets.gotTID != 2 {
		t.Errorf("delete got (%d, %d), want (7, 2)", s.datasets.gotID, s.datasets.gotTID)
	}
}

func TestDatasetsHandler_RefreshSchema(t *testing.T) {
	s := newTestServer(t)
	s.datasets.dataset = &models.Dataset{ID: 7, SchemaInfo: &models.SchemaSnapshot{SampledRows: 1000}}

	rec := s.do(t, http.MethodPost, "/api/datasets/7/schema/refresh", nil, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var ds models.Dataset
	decodeData(t, rec, &ds)
	if ds.SchemaInfo == nil || ds.SchemaInfo.SampledRows != 1000 {
		t.Errorf("unexpected schema: %+v", ds.SchemaInfo)
	}
}

func TestDatasetsHandler_Preview(t *testing.T) {
	s := newTestServer(t)
	s.datasets.preview = &models.DatasetPreview{DatasetID: 7, Sample: &models.Sample{Source: "orders.csv"}}

	rec := s.do(t, http.MethodGet, "/api/datasets/7/preview?limit=20", nil, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if s.datasets.gotLimit != 20 {
		t.Errorf("limit = %d, want 20", s.datasets.gotLimit)
	}
}

func TestDatasetsHandler_Describe(t *testing.T) {
	s := newTestServer(t)
	s.datasets.chat = &models.ChatResponse{Content: "Order lines", Provider: "openai"}

	rec := s.do(t, http.MethodPost, "/api/datasets/7/describe", DescribeRequest{LLMConfigID: 3}, s.user)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if s.datasets.gotLLMID != 3 {
		t.Errorf("llm id = %d, want 3", s.datasets.gotLLMID)
	}
	var resp models.ChatResponse
	decodeData(t, rec, &resp)
	if resp.Content != "Order lines" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestDatasetsHandler_InvalidID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/datasets/abc", nil, s.user)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}
