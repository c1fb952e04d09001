// Package file serves connectors backed by a local file or directory.
package file

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Registrations returns the file-family connector types.
func Registrations() []connector.Registration {
	types := []struct {
		typ, name, desc string
		writable        bool
	}{
		{connector.FormatCSV, "CSV", "Comma-separated files", true},
		{connector.FormatTXT, "Text", "Tab-delimited text files", true},
		{connector.FormatXLSX, "Excel", "Excel workbooks (first sheet by default)", true},
		{connector.FormatPDF, "PDF", "PDF documents, one row per page", false},
		{connector.FormatImage, "Image", "PNG, JPEG and GIF image metadata", false},
	}
	regs := make([]connector.Registration, 0, len(types))
	for _, t := range types {
		regs = append(regs, connector.Registration{
			Info: connector.Info{
				Type:        t.typ,
				DisplayName: t.name,
				Description: t.desc,
				Family:      connector.FamilyFile,
				Writable:    t.writable,
			},
			Open: Open,
		})
	}
	return regs
}

// Capability reads and writes files under a connector's file_path.
type Capability struct {
	root   string
	isDir  bool
	kind   string
	logger *zap.Logger
}

// Open builds a capability rooted at p.FilePath, which must exist.
func Open(_ context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	root := filepath.Clean(p.FilePath)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	return &Capability{root: root, isDir: info.IsDir(), kind: p.Type, logger: logger}, nil
}

// resolve maps a source path to a file inside the connector root.
func (c *Capability) resolve(source string) (string, error) {
	if !c.isDir {
		switch source {
		case "", c.root, filepath.Base(c.root):
			return c.root, nil
		}
		return "", apperrors.NewValidationError("source_path", "must name the connector's file")
	}
	if strings.TrimSpace(source) == "" {
		return "", apperrors.MissingField("source_path")
	}
	target := source
	if !filepath.IsAbs(target) {
		target = filepath.Join(c.root, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(c.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.NewValidationError("source_path", "must be inside the connector directory")
	}
	return target, nil
}

func (c *Capability) formatOf(path string) string {
	if f := connector.FormatFromPath(path); f != "" {
		return f
	}
	return c.kind
}

func (c *Capability) open(source string) (*os.File, connector.Document, error) {
	name, sheet := connector.SplitSheet(source)
	path, err := c.resolve(name)
	if err != nil {
		return nil, connector.Document{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, connector.Document{}, apperrors.NotFound("path", source)
		}
		return nil, connector.Document{}, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, connector.Document{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, connector.Document{}, apperrors.NewValidationError("source_path", "is a directory")
	}
	doc := connector.Document{Name: path, Format: c.formatOf(path), Body: f, Size: info.Size(), Sheet: sheet}
	return f, doc, nil
}

// TestConnection checks the root is still present and readable.
func (c *Capability) TestConnection(_ context.Context) error {
	if c.isDir {
		if _, err := os.ReadDir(c.root); err != nil {
			return fmt.Errorf("read directory: %w", err)
		}
		return nil
	}
	f, err := os.Open(c.root)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	return f.Close()
}

// ReadSample returns the first limit records of source.
func (c *Capability) ReadSample(ctx context.Context, source string, limit int) (*models.Sample, error) {
	f, doc, err := c.open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sample, err := connector.SampleDocument(ctx, doc, limit)
	if err != nil {
		return nil, err
	}
	sample.Source = source
	return sample, nil
}

// InferSchema profiles at most limit records of source.
func (c *Capability) InferSchema(ctx context.Context, source string, limit int) (*models.SchemaSnapshot, error) {
	f, doc, err := c.open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snap, err := connector.ProfileDocument(ctx, doc, limit)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Profiled file",
		zap.String("path", doc.Name),
		zap.Int64("rows", snap.RowCount),
		zap.Int("columns", len(snap.Columns)))
	return snap, nil
}

// ListSources lists supported files directly under a directory root.
func (c *Capability) ListSources(_ context.Context) ([]models.SourceEntry, error) {
	if !c.isDir {
		info, err := os.Stat(c.root)
		if err != nil {
			return nil, fmt.Errorf("stat file: %w", err)
		}
		return []models.SourceEntry{{Name: info.Name(), Path: c.root, SizeBytes: info.Size(), Modified: info.ModTime()}}, nil
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	out := []models.SourceEntry{}
	for _, e := range entries {
		if e.IsDir() || !connector.Supported(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, models.SourceEntry{Name: e.Name(), Path: e.Name(), SizeBytes: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// WriteRows creates the target file when absent, otherwise appends. Delimited
// files keep their existing header order.
func (c *Capability) WriteRows(_ context.Context, req connector.WriteRequest) (*models.WriteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target := req.Table
	if c.isDir && filepath.Ext(target) == "" {
		target += "." + c.kind
	}
	path, err := c.resolve(target)
	if err != nil {
		return nil, err
	}
	format := c.formatOf(path)
	if !connector.Writable(format) {
		return nil, connector.ErrReadOnly
	}

	columns := req.Columns()
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)
	if statErr != nil && !created {
		return nil, fmt.Errorf("stat %s: %w", path, statErr)
	}

	switch {
	case created:
		raw, err := connector.EncodeRows(format, columns, req.Rows, true)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, raw, 0o640); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
	case format == connector.FormatXLSX:
		if err := appendWorkbook(path, columns, req.Rows); err != nil {
			return nil, err
		}
	default:
		if err := appendDelimited(path, format, columns, req.Rows); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Wrote rows to file",
		zap.String("path", path),
		zap.Int("rows", len(req.Rows)),
		zap.Bool("created", created))
	return &models.WriteResult{Table: req.Table, RowsWritten: int64(len(req.Rows)), Created: created}, nil
}

func appendDelimited(path, format string, columns []string, rows []map[string]any) error {
	header, err := readHeader(path, format)
	if err != nil {
		return err
	}
	if len(header) > 0 {
		columns = header
	}
	raw, err := connector.EncodeRows(format, columns, rows, len(header) == 0)
	if err != nil {
		return err
	}
	terminated, err := endsWithNewline(path)
	if err != nil {
		return err
	}
	if !terminated {
		raw = append([]byte{'\n'}, raw...)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}

// endsWithNewline reports whether the file is empty or its last byte is a
// newline, so appended records start on a fresh line.
func endsWithNewline(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return true, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return last[0] == '\n', nil
}

func readHeader(path, format string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	if format == connector.FormatTXT {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header, nil
}

func appendWorkbook(path string, columns []string, rows []map[string]any) error {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheet := wb.GetSheetList()[0]
	existing, err := wb.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet: %w", err)
	}
	withHeader := len(existing) == 0
	if !withHeader {
		columns = existing[0]
	}
	if err := connector.AppendSheetRows(wb, sheet, len(existing)+1, columns, rows, withHeader); err != nil {
		return err
	}
	if err := wb.Save(); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// Close is a no-op; files are opened per call.
func (c *Capability) Close() error { return nil }

var (
	_ connector.Capability   = (*Capability)(nil)
	_ connector.SourceLister = (*Capability)(nil)
)
