package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

// PreviewCache stores dataset samples between preview requests. Misses and
// cache failures both return ok=false; the caller then reads the backend.
type PreviewCache interface {
	Get(ctx context.Context, key string) (*models.Sample, bool)
	Set(ctx context.Context, key string, sample *models.Sample)
}

// previewKey embeds updated_at so an edited dataset never serves a stale sample.
func previewKey(ds *models.Dataset, limit int) string {
	return fmt.Sprintf("datasaki:preview:%d:%d:%d", ds.ID, ds.UpdatedAt.UnixNano(), limit)
}

type redisPreviewCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewPreviewCache returns a Redis-backed cache, or a no-op cache when client is nil.
func NewPreviewCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) PreviewCache {
	if client == nil {
		return nopPreviewCache{}
	}
	return &redisPreviewCache{client: client, ttl: ttl, logger: logger.Named("preview-cache")}
}

func (c *redisPreviewCache) Get(ctx context.Context, key string) (*models.Sample, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Preview cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var sample models.Sample
	if err := json.Unmarshal(raw, &sample); err != nil {
		c.logger.Warn("Discarding unreadable cached preview", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &sample, true
}

func (c *redisPreviewCache) Set(ctx context.Context, key string, sample *models.Sample) {
	raw, err := json.Marshal(sample)
	if err != nil {
		c.logger.Warn("Preview not cacheable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Preview cache write failed", zap.String("key", key), zap.Error(err))
	}
}

type nopPreviewCache struct{}

func (nopPreviewCache) Get(context.Context, string) (*models.Sample, bool) { return nil, false }
func (nopPreviewCache) Set(context.Context, string, *models.Sample)        {}
