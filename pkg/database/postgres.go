package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datasaki/datasaki-engine/pkg/config"
)

// applicationName tags metadata store sessions in pg_stat_activity.
const applicationName = "datasaki-engine"

// DB wraps the metadata store's pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds pool settings for the metadata store. Zero values fall back
// to the defaults in poolConfig.
type Config struct {
	URL               string
	MaxConnections    int32
	MinConnections    int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// NewConfig maps the service's database settings onto pool settings.
func NewConfig(cfg *config.DatabaseConfig) *Config {
	return &Config{
		URL:               cfg.ConnectionString(),
		MaxConnections:    cfg.MaxConnections,
		MinConnections:    cfg.MinConnections,
		MaxConnLifetime:   cfg.MaxConnLifetime,
		MaxConnIdleTime:   cfg.MaxConnIdleTime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
		ConnectTimeout:    cfg.ConnectTimeout,
	}
}

func (c *Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pc.MaxConns = orDefault(c.MaxConnections, 25)
	pc.MinConns = c.MinConnections
	if pc.MinConns > pc.MaxConns {
		pc.MinConns = pc.MaxConns
	}
	pc.MaxConnLifetime = orDefault(c.MaxConnLifetime, time.Hour)
	pc.MaxConnIdleTime = orDefault(c.MaxConnIdleTime, 30*time.Minute)
	pc.HealthCheckPeriod = orDefault(c.HealthCheckPeriod, time.Minute)
	if c.ConnectTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}
	if _, ok := pc.ConnConfig.RuntimeParams["application_name"]; !ok {
		pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return pc, nil
}

func orDefault[T int32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// NewConnection creates the connection pool and verifies it with a ping.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
