package connector

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// File formats understood by file-like backends.
const (
	FormatCSV   = "csv"
	FormatTXT   = "txt"
	FormatXLSX  = "xlsx"
	FormatPDF   = "pdf"
	FormatImage = "image"
)

var imageHeader = []string{"path", "format", "width", "height", "size_bytes"}

// FormatFromPath maps a file extension to a format. Unknown extensions are
// returned lower-cased so callers can report them.
func FormatFromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "csv":
		return FormatCSV
	case "txt", "tsv", "tab":
		return FormatTXT
	case "xlsx", "xlsm":
		return FormatXLSX
	case "pdf":
		return FormatPDF
	case "png", "jpg", "jpeg", "gif":
		return FormatImage
	default:
		return ext
	}
}

// Supported reports whether path has an extension the format readers parse.
func Supported(path string) bool {
	switch FormatFromPath(path) {
	case FormatCSV, FormatTXT, FormatXLSX, FormatPDF, FormatImage:
		return true
	}
	return false
}

// Writable reports whether rows can be written in format.
func Writable(format string) bool {
	return format == FormatCSV || format == FormatTXT || format == FormatXLSX
}

// UnsupportedFormat is the validation error for an unknown file format.
func UnsupportedFormat(path string) error {
	f := FormatFromPath(path)
	if f == "" {
		f = "(none)"
	}
	return apperrors.NewValidationError("source_path", fmt.Sprintf("unsupported file format %q", f))
}

// SplitSheet separates a workbook source of the form "book.xlsx#Sheet" into
// the file name and the sheet. Other sources are returned with no sheet.
func SplitSheet(source string) (name, sheet string) {
	i := strings.LastIndex(source, "#")
	if i <= 0 || i == len(source)-1 || FormatFromPath(source[:i]) != FormatXLSX {
		return source, ""
	}
	return source[:i], source[i+1:]
}

// Document is a file-like source handed to the format readers.
type Document struct {
	Name   string
	Format string // derived from Name when empty
	Body   io.Reader
	Size   int64
	Sheet  string // xlsx only; first sheet when empty
}

func (d Document) format() string {
	if d.Format != "" {
		return d.Format
	}
	return FormatFromPath(d.Name)
}

func delimiter(format string) rune {
	if format == FormatTXT {
		return '\t'
	}
	return ','
}

// ScanDelimited reads the header and then at most limit records, calling fn
// for each. It never asks the reader for a record beyond the limit.
func ScanDelimited(ctx context.Context, r io.Reader, delim rune, limit int, onHeader func([]string), fn func(record []string) error) error {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		onHeader(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if header[i] == "" {
			header[i] = "column_" + strconv.Itoa(i+1)
		}
	}
	onHeader(header)

	for n := 0; n < limit; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read record %d: %w", n+1, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// scan dispatches doc to its format reader, emitting the header once and then
// at most limit records.
func scan(ctx context.Context, format string, doc Document, limit int, onHeader func([]string), fn func([]string) error) error {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	switch format {
	case FormatCSV, FormatTXT:
		return ScanDelimited(ctx, doc.Body, delimiter(format), limit, onHeader, fn)
	case FormatXLSX:
		return scanWorkbook(ctx, doc, limit, onHeader, fn)
	case FormatPDF:
		return scanPDF(ctx, doc, limit, onHeader, fn)
	case FormatImage:
		cfg, imgFormat, err := image.DecodeConfig(doc.Body)
		if err != nil {
			return fmt.Errorf("decode image: %w", err)
		}
		onHeader(imageHeader)
		return fn([]string{doc.Name, imgFormat, strconv.Itoa(cfg.Width), strconv.Itoa(cfg.Height), strconv.FormatInt(doc.Size, 10)})
	default:
		return UnsupportedFormat(doc.Name)
	}
}

func readerAt(doc Document) (io.ReaderAt, int64, error) {
	if ra, ok := doc.Body.(io.ReaderAt); ok && doc.Size > 0 {
		return ra, doc.Size, nil
	}
	raw, err := io.ReadAll(doc.Body)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(raw), int64(len(raw)), nil
}

func scanWorkbook(ctx context.Context, doc Document, limit int, onHeader func([]string), fn func([]string) error) error {
	wb, err := excelize.OpenReader(doc.Body)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheet := doc.Sheet
	if sheet == "" {
		sheets := wb.GetSheetList()
		if len(sheets) == 0 {
			onHeader(nil)
			return nil
		}
		sheet = sheets[0]
	} else if idx, err := wb.GetSheetIndex(sheet); err != nil || idx < 0 {
		return apperrors.NotFound("sheet", sheet)
	}
	rows, err := wb.Rows(sheet)
	if err != nil {
		return fmt.Errorf("open sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	if !rows.Next() {
		onHeader(nil)
		return rows.Error()
	}
	header, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	onHeader(header)

	for n := 0; n < limit && rows.Next(); n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read row %d: %w", n+2, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Error()
}

func scanPDF(ctx context.Context, doc Document, limit int, onHeader func([]string), fn func([]string) error) error {
	ra, size, err := readerAt(doc)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	rd, err := pdf.NewReader(ra, size)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	onHeader([]string{"page", "text"})
	pages := rd.NumPage()
	for i := 1; i <= pages && i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := rd.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return fmt.Errorf("extract page %d: %w", i, err)
		}
		if err := fn([]string{strconv.Itoa(i), strings.TrimSpace(text)}); err != nil {
			return err
		}
	}
	return nil
}

// ProfileDocument samples at most limit records of doc and profiles them.
func ProfileDocument(ctx context.Context, doc Document, limit int) (*models.SchemaSnapshot, error) {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	format := doc.format()
	var p *Profiler
	err := scan(ctx, format, doc, limit,
		func(h []string) { p = NewProfiler(NormalizeHeader(h)) },
		func(rec []string) error {
			p.AddRecord(rec)
			return nil
		})
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = NewProfiler(nil)
	}
	return p.FileSnapshot(format, limit), nil
}

// SampleDocument returns at most limit records of doc keyed by header.
func SampleDocument(ctx context.Context, doc Document, limit int) (*models.Sample, error) {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	format := doc.format()
	sample := &models.Sample{Source: doc.Name, Rows: []map[string]any{}}
	err := scan(ctx, format, doc, limit,
		func(h []string) { sample.Columns = NormalizeHeader(h) },
		func(rec []string) error {
			sample.Rows = append(sample.Rows, RecordRow(sample.Columns, rec))
			return nil
		})
	if err != nil {
		return nil, err
	}
	sample.Truncated = len(sample.Rows) >= limit
	return sample, nil
}

// RecordRow keys a positional record by columns. Missing trailing cells are nil.
func RecordRow(columns []string, rec []string) map[string]any {
	row := make(map[string]any, len(columns))
	for i, c := range columns {
		if i < len(rec) {
			row[c] = rec[i]
		} else {
			row[c] = nil
		}
	}
	return row
}

// NormalizeHeader names blank header cells and suffixes repeated names so
// every column remains addressable.
func NormalizeHeader(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		if n, ok := seen[h]; ok {
			seen[h] = n + 1
			out[i] = h + "_" + strconv.Itoa(n+1)
			continue
		}
		seen[h] = 1
		out[i] = h
	}
	return out
}

// EncodeRows renders rows in a writable file format, header first.
func EncodeRows(format string, columns []string, rows []map[string]any, withHeader bool) ([]byte, error) {
	switch format {
	case FormatCSV, FormatTXT:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		w.Comma = delimiter(format)
		if withHeader {
			if err := w.Write(columns); err != nil {
				return nil, err
			}
		}
		for _, row := range rows {
			if err := w.Write(Record(columns, row)); err != nil {
				return nil, err
			}
		}
		w.Flush()
		return buf.Bytes(), w.Error()
	case FormatXLSX:
		wb := excelize.NewFile()
		defer wb.Close()
		sheet := wb.GetSheetList()[0]
		if err := AppendSheetRows(wb, sheet, 1, columns, rows, withHeader); err != nil {
			return nil, err
		}
		buf, err := wb.WriteToBuffer()
		if err != nil {
			return nil, fmt.Errorf("encode workbook: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, ErrReadOnly
	}
}

// AppendSheetRows writes rows into sheet starting at startRow (1-based).
func AppendSheetRows(wb *excelize.File, sheet string, startRow int, columns []string, rows []map[string]any, withHeader bool) error {
	r := startRow
	if withHeader {
		header := make([]any, len(columns))
		for i, c := range columns {
			header[i] = c
		}
		cell, _ := excelize.CoordinatesToCellName(1, r)
		if err := wb.SetSheetRow(sheet, cell, &header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		r++
	}
	for _, row := range rows {
		vals := make([]any, len(columns))
		for i, c := range columns {
			vals[i] = row[c]
		}
		cell, _ := excelize.CoordinatesToCellName(1, r)
		if err := wb.SetSheetRow(sheet, cell, &vals); err != nil {
			return fmt.Errorf("write row %d: %w", r, err)
		}
		r++
	}
	return nil
}

// Record renders row in column order for delimited output.
func Record(columns []string, row map[string]any) []string {
	rec := make([]string, len(columns))
	for i, c := range columns {
		s, null := Stringify(row[c])
		if !null {
			rec[i] = s
		}
	}
	return rec
}

// AppendRows returns existing with rows appended, for stores that replace
// whole objects. Delimited content keeps its header order; an empty body is
// written fresh with a header.
func AppendRows(format string, existing []byte, columns []string, rows []map[string]any) ([]byte, error) {
	if len(bytes.TrimSpace(existing)) == 0 {
		return EncodeRows(format, columns, rows, true)
	}
	switch format {
	case FormatCSV, FormatTXT:
		cr := csv.NewReader(bytes.NewReader(existing))
		cr.Comma = delimiter(format)
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		header, err := cr.Read()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		if len(header) > 0 {
			header[0] = strings.TrimPrefix(header[0], "\ufeff")
		}
		tail, err := EncodeRows(format, header, rows, false)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(existing)+len(tail)+1)
		out = append(out, existing...)
		if existing[len(existing)-1] != '\n' {
			out = append(out, '\n')
		}
		return append(out, tail...), nil
	case FormatXLSX:
		wb, err := excelize.OpenReader(bytes.NewReader(existing))
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer wb.Close()
		sheet := wb.GetSheetList()[0]
		current, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet: %w", err)
		}
		withHeader := len(current) == 0
		if !withHeader {
			columns = current[0]
		}
		if err := AppendSheetRows(wb, sheet, len(current)+1, columns, rows, withHeader); err != nil {
			return nil, err
		}
		buf, err := wb.WriteToBuffer()
		if err != nil {
			return nil, fmt.Errorf("encode workbook: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, ErrReadOnly
	}
}

// ContentType is the MIME type used when uploading a writable format.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatTXT:
		return "text/tab-separated-values"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
