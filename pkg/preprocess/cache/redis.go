package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Redis backs the preprocessor cache with github.com/redis/go-redis/v9,
// letting several pipeline processes analyzing overlapping date ranges
// share one PreprocessedData instead of each re-scanning the corpus
// (SPEC_FULL §3). Values are JSON-encoded; the serialization itself is an
// incidental storage-format choice, not a named domain concern, so it uses
// encoding/json rather than the streaming jx decoder reserved for corpus
// ingestion.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing *redis.Client. ttl of 0 means entries never
// expire (matching the in-process cache's process-lifetime default).
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (c *Redis) Get(ctx context.Context, key Key) (*types.PreprocessedData, bool, error) {
	raw, err := c.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var data types.PreprocessedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, err
	}
	return &data, true, nil
}

func (c *Redis) Set(ctx context.Context, key Key, data *types.PreprocessedData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key.String(), raw, c.ttl).Err()
}

// Clear flushes the database this client is bound to. Callers sharing a
// Redis instance across unrelated keyspaces should point this client at a
// dedicated logical database.
func (c *Redis) Clear(ctx context.Context) error {
	return c.client.FlushDB(ctx).Err()
}
