package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsecrm/pulsecrm/internal/domain/presence"
)

const keyPrefix = "presence:"

// PresenceCache implements presence.Cache on Redis. Each resource gets one
// hash keyed presence:<type>:<id>, field per user, value the JSON record.
// Hashes expire after ttl so abandoned resources clean themselves up even if
// the sweep never visits them.
type PresenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresenceCache wraps client. ttl <= 0 defaults to 24h.
func NewPresenceCache(client *redis.Client, ttl time.Duration) *PresenceCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PresenceCache{client: client, ttl: ttl}
}

func resourceKey(resourceType, resourceID string) string {
	return keyPrefix + resourceType + ":" + resourceID
}

func (c *PresenceCache) Put(ctx context.Context, rec *presence.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := resourceKey(rec.ResourceType, rec.ResourceID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, rec.UserID, data)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *PresenceCache) Get(ctx context.Context, resourceType, resourceID, userID string) (*presence.Record, error) {
	data, err := c.client.HGet(ctx, resourceKey(resourceType, resourceID), userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec presence.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *PresenceCache) List(ctx context.Context, resourceType, resourceID string) ([]*presence.Record, error) {
	fields, err := c.client.HGetAll(ctx, resourceKey(resourceType, resourceID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*presence.Record, 0, len(fields))
	for _, raw := range fields {
		var rec presence.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (c *PresenceCache) Resources(ctx context.Context) ([][2]string, error) {
	var out [][2]string
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), keyPrefix)
		resourceType, resourceID, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		out = append(out, [2]string{resourceType, resourceID})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence keys: %w", err)
	}
	return out, nil
}

func (c *PresenceCache) Remove(ctx context.Context, resourceType, resourceID, userID string) error {
	return c.client.HDel(ctx, resourceKey(resourceType, resourceID), userID).Err()
}
