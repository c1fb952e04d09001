package gsheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSheetRange(t *testing.T) {
	assert.Equal(t, "'Orders'!1:1001", SheetRange("Orders", 1, 1001))
	assert.Equal(t, "'Bob''s tab'!1:1", SheetRange("Bob's tab", 1, 1))
	assert.Equal(t, "'Orders'!1:1048576", SheetRange("Orders", 1, 0))
}

func TestRecords(t *testing.T) {
	header, recs := Records([][]any{
		{"id", "", "id"},
		{"1", "x"},
		{float64(2), "y", true},
	})
	assert.Equal(t, []string{"id", "column_2", "id_2"}, header)
	assert.Equal(t, [][]string{{"1", "x"}, {"2", "y", "true"}}, recs)

	header, recs = Records(nil)
	assert.Empty(t, header)
	assert.Empty(t, recs)
}

func TestValueRows(t *testing.T) {
	got := ValueRows([]string{"b", "a"}, []map[string]any{{"a": 1, "b": nil}, {"b": "x"}})
	assert.Equal(t, [][]any{{"", 1}, {"x", ""}}, got)
}
