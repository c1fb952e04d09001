// Package gsheets implements the Google Sheets connector. Each tab of one
// spreadsheet is a source whose first row is the header.
package gsheets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Format is reported as the snapshot file format.
const Format = "googlesheet"

// Registration describes the googlesheets connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:           "googlesheets",
			DisplayName:    "Google Sheets",
			Description:    "Tabs of a Google Sheets spreadsheet",
			Family:         connector.FamilyCloud,
			RequiredFields: []string{"credentials_json", "spreadsheet_id"},
			Writable:       true,
		},
		Open: Open,
	}
}

// Capability reads and appends rows in one spreadsheet.
type Capability struct {
	svc           *sheets.Service
	spreadsheetID string
	logger        *zap.Logger
}

// Open authenticates with a service account key.
func Open(ctx context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON([]byte(connector.String(p.Details, "credentials_json"))),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &Capability{svc: svc, spreadsheetID: connector.String(p.Details, "spreadsheet_id"), logger: logger}, nil
}

// SheetRange quotes a tab title into an A1 range covering rows first..last.
// last <= 0 leaves the range open ended.
func SheetRange(title string, first, last int) string {
	quoted := "'" + strings.ReplaceAll(title, "'", "''") + "'"
	if last <= 0 {
		return fmt.Sprintf("%s!%d:%d", quoted, first, 1<<20)
	}
	return fmt.Sprintf("%s!%d:%d", quoted, first, last)
}

func (c *Capability) titles(ctx context.Context) ([]string, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	out := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		out = append(out, sh.Properties.Title)
	}
	return out, nil
}

// tab resolves source to a tab title. Empty selects the first tab.
func (c *Capability) tab(ctx context.Context, source string) (string, error) {
	titles, err := c.titles(ctx)
	if err != nil {
		return "", err
	}
	if source == "" {
		if len(titles) == 0 {
			return "", apperrors.NotFound("sheet", c.spreadsheetID)
		}
		return titles[0], nil
	}
	for _, t := range titles {
		if t == source {
			return t, nil
		}
	}
	return "", apperrors.NotFound("sheet", source)
}

// read fetches the header and at most limit data rows. Only rows 1..limit+1
// are requested.
func (c *Capability) read(ctx context.Context, source string, limit int) ([]string, [][]string, error) {
	if limit <= 0 {
		limit = connector.DefaultSampleLimit
	}
	title, err := c.tab(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, SheetRange(title, 1, limit+1)).Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("read values: %w", err)
	}
	header, records := Records(vr.Values)
	return header, records, nil
}

// Records splits raw cell values into a normalized header and string records.
func Records(values [][]any) ([]string, [][]string) {
	if len(values) == 0 {
		return []string{}, nil
	}
	header := connector.NormalizeHeader(cells(values[0]))
	records := make([][]string, 0, len(values)-1)
	for _, v := range values[1:] {
		records = append(records, cells(v))
	}
	return header, records
}

func cells(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		s, _ := connector.Stringify(v)
		out[i] = s
	}
	return out
}

// TestConnection reads the spreadsheet metadata.
func (c *Capability) TestConnection(ctx context.Context) error {
	_, err := c.titles(ctx)
	return err
}

// ReadSample returns the first limit rows of a tab.
func (c *Capability) ReadSample(ctx context.Context, source string, limit int) (*models.Sample, error) {
	header, records, err := c.read(ctx, source, limit)
	if err != nil {
		return nil, err
	}
	sample := &models.Sample{Source: source, Columns: header, Rows: make([]map[string]any, 0, len(records))}
	for _, rec := range records {
		sample.Rows = append(sample.Rows, connector.RecordRow(header, rec))
	}
	sample.Truncated = len(records) >= limit
	return sample, nil
}

// InferSchema profiles the first limit rows of a tab.
func (c *Capability) InferSchema(ctx context.Context, source string, limit int) (*models.SchemaSnapshot, error) {
	header, records, err := c.read(ctx, source, limit)
	if err != nil {
		return nil, err
	}
	p := connector.NewProfiler(header)
	for _, rec := range records {
		p.AddRecord(rec)
	}
	return p.FileSnapshot(Format, limit), nil
}

// WriteRows appends rows to a tab in its header order, creating the tab with
// a header row when absent.
func (c *Capability) WriteRows(ctx context.Context, req connector.WriteRequest) (*models.WriteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	titles, err := c.titles(ctx)
	if err != nil {
		return nil, err
	}
	created := true
	for _, t := range titles {
		if t == req.Table {
			created = false
		}
	}

	columns := req.Columns()
	var values [][]any
	if created {
		_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: req.Table}}}},
		}).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("add sheet %s: %w", req.Table, err)
		}
		values = append(values, headerRow(columns))
	} else {
		vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, SheetRange(req.Table, 1, 1)).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		if len(vr.Values) > 0 && len(vr.Values[0]) > 0 {
			columns = cells(vr.Values[0])
		} else {
			values = append(values, headerRow(columns))
		}
	}
	values = append(values, ValueRows(columns, req.Rows)...)

	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, SheetRange(req.Table, 1, 0), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("append values: %w", err)
	}
	c.logger.Info("Appended rows to sheet",
		zap.String("sheet", req.Table),
		zap.Int("rows", len(req.Rows)),
		zap.Bool("created", created))
	return &models.WriteResult{Table: req.Table, RowsWritten: int64(len(req.Rows)), Created: created}, nil
}

func headerRow(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = c
	}
	return out
}

// ValueRows renders rows as cell values in column order. Nulls become empty cells.
func ValueRows(columns []string, rows []map[string]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(columns))
		for j, c := range columns {
			if v, ok := row[c]; ok && v != nil {
				vals[j] = v
			} else {
				vals[j] = ""
			}
		}
		out[i] = vals
	}
	return out
}

// ListSources lists the tabs of the spreadsheet.
func (c *Capability) ListSources(ctx context.Context) ([]models.SourceEntry, error) {
	titles, err := c.titles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.SourceEntry, 0, len(titles))
	for _, t := range titles {
		out = append(out, models.SourceEntry{Name: t, Path: t})
	}
	return out, nil
}

// Close is a no-op; the HTTP client has no pooled resources to release.
func (c *Capability) Close() error { return nil }

var (
	_ connector.Capability   = (*Capability)(nil)
	_ connector.SourceLister = (*Capability)(nil)
)
