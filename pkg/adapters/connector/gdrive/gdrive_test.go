package gdrive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery(t *testing.T) {
	assert.Equal(t, "'root' in parents and trashed = false", Query("root", ""))
	assert.Equal(t,
		`'abc' in parents and trashed = false and name = 'o\'brien.csv'`,
		Query("abc", "o'brien.csv"))
}
