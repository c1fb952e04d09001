package postgres

import (
	"fmt"
	"net/url"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/config"
)

// Config contains PostgreSQL connection options.
type Config struct {
	URI      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Schema   string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// FromParams reads a Config from stored connector params.
func FromParams(p connector.Params) (*Config, error) {
	port, err := connector.Int(p.Details, "port", 5432)
	if err != nil {
		return nil, err
	}
	return &Config{
		URI:      p.URI,
		Host:     connector.String(p.Details, "host"),
		Port:     port,
		User:     connector.String(p.Details, "user"),
		Password: connector.String(p.Details, "password"),
		Database: connector.String(p.Details, "database"),
		Schema:   connector.StringOr(p.Details, "schema", "public"),
		SSLMode:  connector.StringOr(p.Details, "ssl_mode", "prefer"),
	}, nil
}

// ConnectionString builds a PostgreSQL URL with every user-supplied part
// escaped. localhost is rewritten when running inside Docker.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}
