package mysql

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
)

func TestDSN_FromDetails(t *testing.T) {
	dsn, db, err := DSN(connector.Params{Details: map[string]any{
		"host": "mysql.internal", "port": "3307", "user": "root", "password": "p@ss:word", "database": "shop",
	}})
	require.NoError(t, err)
	assert.Equal(t, "shop", db)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "mysql.internal:3307", cfg.Addr)
	assert.Equal(t, "p@ss:word", cfg.Passwd)
	assert.True(t, cfg.ParseTime)
}

func TestDSN_URIPassthrough(t *testing.T) {
	dsn, db, err := DSN(connector.Params{URI: "u:p@tcp(h:3306)/inventory"})
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(h:3306)/inventory", dsn)
	assert.Equal(t, "inventory", db)

	_, _, err = DSN(connector.Params{URI: "not a dsn"})
	assert.Error(t, err)
}

func TestDialect(t *testing.T) {
	d := dialect{}
	assert.Equal(t, "SELECT * FROM `shop`.`orders` LIMIT 5", d.SampleQuery("`shop`.`orders`", 5))
	native, err := d.Types().Resolve("timestamp")
	require.NoError(t, err)
	assert.Equal(t, "DATETIME(6)", native)
}
