package connector

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

var dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006", "02.01.2006"}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"01/02/2006 15:04:05",
}

type columnStats struct {
	seen     bool
	allInt   bool
	allFloat bool
	allBool  bool
	allDate  bool
	allTS    bool
	nulls    int64
	distinct map[string]struct{}
	samples  []string
}

func newColumnStats() *columnStats {
	return &columnStats{
		allInt: true, allFloat: true, allBool: true, allDate: true, allTS: true,
		distinct: make(map[string]struct{}),
	}
}

func (c *columnStats) add(v string, null bool) {
	if null {
		c.nulls++
		return
	}
	c.seen = true
	if _, ok := c.distinct[v]; !ok {
		c.distinct[v] = struct{}{}
	}
	if len(c.samples) < models.MaxSampleValues {
		c.samples = append(c.samples, v)
	}

	if c.allInt {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			c.allInt = false
		}
	}
	if c.allFloat {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			c.allFloat = false
		}
	}
	if c.allBool {
		if _, ok := parseBoolLoose(v); !ok {
			c.allBool = false
		}
	}
	if c.allDate && !matchesAny(v, dateLayouts) {
		c.allDate = false
	}
	if c.allTS && !matchesAny(v, timestampLayouts) {
		c.allTS = false
	}
}

// kind picks the most specific type every non-null value satisfied.
func (c *columnStats) kind() string {
	if !c.seen {
		return models.ColumnTypeString
	}
	switch {
	case c.allInt:
		return models.ColumnTypeInteger
	case c.allBool:
		return models.ColumnTypeBoolean
	case c.allDate:
		return models.ColumnTypeDate
	case c.allTS:
		return models.ColumnTypeTimestamp
	case c.allFloat:
		return models.ColumnTypeFloat
	default:
		return models.ColumnTypeString
	}
}

// Profiler accumulates per-column statistics over sampled rows.
type Profiler struct {
	columns []string
	index   map[string]int
	stats   []*columnStats
	rows    int
}

// NewProfiler starts a profile over the given column order. Columns seen
// later through AddRow are appended.
func NewProfiler(columns []string) *Profiler {
	p := &Profiler{index: make(map[string]int)}
	for _, c := range columns {
		p.column(c)
	}
	return p
}

func (p *Profiler) column(name string) int {
	if i, ok := p.index[name]; ok {
		return i
	}
	p.index[name] = len(p.columns)
	p.columns = append(p.columns, name)
	s := newColumnStats()
	// rows already profiled had no value for this column
	s.nulls = int64(p.rows)
	p.stats = append(p.stats, s)
	return len(p.columns) - 1
}

// Rows returns how many rows have been added.
func (p *Profiler) Rows() int { return p.rows }

// AddRecord profiles a positional record. Short records are padded with nulls.
func (p *Profiler) AddRecord(record []string) {
	for i := range p.stats {
		if i >= len(record) {
			p.stats[i].add("", true)
			continue
		}
		v := strings.TrimSpace(record[i])
		p.stats[i].add(v, v == "")
	}
	p.rows++
}

// AddRow profiles a keyed row. Unseen keys become new columns in sorted order.
func (p *Profiler) AddRow(row map[string]any) {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	touched := make([]bool, len(p.stats))
	for _, k := range keys {
		v := row[k]
		i := p.column(k)
		if i >= len(touched) {
			touched = append(touched, make([]bool, i-len(touched)+1)...)
		}
		touched[i] = true
		s, null := Stringify(v)
		p.stats[i].add(s, null)
	}
	for i, ok := range touched {
		if !ok {
			p.stats[i].add("", true)
		}
	}
	p.rows++
}

// Columns returns the column profiles in column order.
func (p *Profiler) Columns() []models.ColumnProfile {
	out := make([]models.ColumnProfile, len(p.columns))
	for i, name := range p.columns {
		s := p.stats[i]
		samples := s.samples
		if samples == nil {
			samples = []string{}
		}
		out[i] = models.ColumnProfile{
			Name:         name,
			Type:         s.kind(),
			Nullable:     s.nulls > 0,
			SampleValues: samples,
			NullCount:    s.nulls,
			UniqueCount:  int64(len(s.distinct)),
		}
	}
	return out
}

// CollectionSnapshot builds the snapshot of a sampled document collection or
// object. rowCount is the backend's own count; it may exceed the sample.
func (p *Profiler) CollectionSnapshot(kind string, rowCount int64, limit int) *models.SchemaSnapshot {
	return &models.SchemaSnapshot{
		Kind:        kind,
		RowCount:    rowCount,
		SampledRows: p.rows,
		SampleLimit: limit,
		Columns:     p.Columns(),
		InferredAt:  nowUTC(),
	}
}

// FileSnapshot builds the snapshot of a sampled file.
func (p *Profiler) FileSnapshot(format string, limit int) *models.SchemaSnapshot {
	return &models.SchemaSnapshot{
		Kind:        models.SchemaKindFile,
		FileFormat:  format,
		RowCount:    int64(p.rows),
		SampledRows: p.rows,
		SampleLimit: limit,
		Columns:     p.Columns(),
		InferredAt:  nowUTC(),
	}
}

// Stringify renders a backend value for profiling. The second result is true
// for SQL NULL, nil and empty strings.
func Stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		s := strings.TrimSpace(t)
		return s, s == ""
	case []byte:
		s := strings.TrimSpace(string(t))
		return s, s == ""
	case time.Time:
		if t.IsZero() {
			return "", true
		}
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02"), false
		}
		return t.UTC().Format(time.RFC3339), false
	case *time.Time:
		if t == nil {
			return "", true
		}
		return Stringify(*t)
	case bool:
		return strconv.FormatBool(t), false
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), false
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), false
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), false
	case fmt.Stringer:
		return t.String(), false
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t), false
		}
		return string(raw), false
	default:
		return fmt.Sprint(t), false
	}
}

func parseBoolLoose(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	}
	return false, false
}

func matchesAny(v string, layouts []string) bool {
	for _, l := range layouts {
		if _, err := time.Parse(l, v); err == nil {
			return true
		}
	}
	return false
}

var nowUTC = func() time.Time { return time.Now().UTC() }
