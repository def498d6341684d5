package memcache

import (
	"context"
	"sync"

	"github.com/pulsecrm/pulsecrm/internal/domain/presence"
)

// PresenceCache implements presence.Cache in process memory. It backs
// single-node deployments and development runs where Redis is not wired.
type PresenceCache struct {
	mu   sync.RWMutex
	recs map[string]map[string]*presence.Record // resourceType:resourceID -> userID -> record
}

func NewPresenceCache() *PresenceCache {
	return &PresenceCache{recs: make(map[string]map[string]*presence.Record)}
}

func key(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}

func (c *PresenceCache) Put(_ context.Context, rec *presence.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(rec.ResourceType, rec.ResourceID)
	if c.recs[k] == nil {
		c.recs[k] = make(map[string]*presence.Record)
	}
	cp := *rec
	c.recs[k][rec.UserID] = &cp
	return nil
}

func (c *PresenceCache) Get(_ context.Context, resourceType, resourceID, userID string) (*presence.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.recs[key(resourceType, resourceID)][userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (c *PresenceCache) List(_ context.Context, resourceType, resourceID string) ([]*presence.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	users := c.recs[key(resourceType, resourceID)]
	out := make([]*presence.Record, 0, len(users))
	for _, rec := range users {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (c *PresenceCache) Resources(_ context.Context) ([][2]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([][2]string, 0, len(c.recs))
	for _, users := range c.recs {
		for _, rec := range users {
			out = append(out, [2]string{rec.ResourceType, rec.ResourceID})
			break
		}
	}
	return out, nil
}

func (c *PresenceCache) Remove(_ context.Context, resourceType, resourceID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(resourceType, resourceID)
	delete(c.recs[k], userID)
	if len(c.recs[k]) == 0 {
		delete(c.recs, k)
	}
	return nil
}
