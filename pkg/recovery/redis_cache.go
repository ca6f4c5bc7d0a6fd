package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/superyldr/relayer/pkg/models"
)

// DefaultRedisKey is the hash holding every active intent, one field per refId
const DefaultRedisKey = "relayer:active"

// RedisCache shares active intents between relayer instances
type RedisCache struct {
	client *redis.Client
	key    string
}

func NewRedisCache(client *redis.Client, key string) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCache{client: client, key: key}
}

func (c *RedisCache) TrackActive(ctx context.Context, meta models.ActiveMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := c.client.HSet(ctx, c.key, cacheKey(meta.RefID), data).Err(); err != nil {
		return fmt.Errorf("failed to track %s: %v", meta.RefID, err)
	}
	return nil
}

// UpdateActive merges under WATCH so concurrent updates of the hash do not lose fields
func (c *RedisCache) UpdateActive(ctx context.Context, refID string, patch models.ActiveMeta) error {
	field := cacheKey(refID)
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		var existing *models.ActiveMeta
		raw, err := tx.HGet(ctx, c.key, field).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var meta models.ActiveMeta
			if err := json.Unmarshal(raw, &meta); err != nil {
				return fmt.Errorf("failed to decode cached %s: %v", refID, err)
			}
			existing = &meta
		}

		data, err := json.Marshal(merge(existing, refID, patch))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, c.key, field, data)
			return nil
		})
		return err
	}, c.key)
}

func (c *RedisCache) ClearActive(ctx context.Context, refID string) error {
	return c.client.HDel(ctx, c.key, cacheKey(refID)).Err()
}

func (c *RedisCache) ReadAllActive(ctx context.Context) (map[string]models.ActiveMeta, error) {
	raw, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active intents: %v", err)
	}
	out := make(map[string]models.ActiveMeta, len(raw))
	for field, value := range raw {
		var meta models.ActiveMeta
		if err := json.Unmarshal([]byte(value), &meta); err != nil {
			continue
		}
		out[field] = meta
	}
	return out, nil
}
