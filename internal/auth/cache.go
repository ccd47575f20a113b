package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"tillpoint.org/internal/obs"
)

// DefaultPermissionTTL bounds how stale a cached permission set may be when
// a mutation forgets to invalidate.
const DefaultPermissionTTL = 5 * time.Minute

const permissionKeyPrefix = "perm:user:"

// PermissionCache holds resolved permission sets keyed per user. The whole
// set is cached and invalidated as one unit so a single delete covers every
// (module, feature) the user touches.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPermissionCache wraps a redis client as the permission cache. A
// non-positive ttl falls back to DefaultPermissionTTL.
func NewPermissionCache(client *redis.Client, ttl time.Duration) (*PermissionCache, error) {
	if client == nil {
		return nil, errors.New("auth: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	return &PermissionCache{client: client, ttl: ttl}, nil
}

// TTL returns the configured entry lifetime.
func (c *PermissionCache) TTL() time.Duration { return c.ttl }

// Get returns the cached permission set for the user. A corrupt entry is
// deleted on detection and reported as a miss so one bad payload does not
// trigger the recompute on every request until its TTL elapses.
func (c *PermissionCache) Get(ctx context.Context, userID string) (PermissionSet, bool, error) {
	key, err := c.key(userID)
	if err != nil {
		return nil, false, err
	}
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		obs.PermCacheEvent(obs.CacheMiss)
		return nil, false, nil
	}
	if err != nil {
		obs.PermCacheEvent(obs.CacheReadError)
		return nil, false, fmt.Errorf("permission cache get %s: %w", userID, err)
	}
	var set PermissionSet
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		obs.PermCacheEvent(obs.CacheCorrupt)
		c.client.Del(ctx, key)
		return nil, false, nil
	}
	obs.PermCacheEvent(obs.CacheHit)
	return set, true, nil
}

// Set stores the resolved permission set with the standard TTL.
func (c *PermissionCache) Set(ctx context.Context, userID string, set PermissionSet) error {
	key, err := c.key(userID)
	if err != nil {
		return err
	}
	if set == nil {
		set = PermissionSet{}
	}
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("permission cache encode %s: %w", userID, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		obs.PermCacheEvent(obs.CacheWriteError)
		return fmt.Errorf("permission cache set %s: %w", userID, err)
	}
	return nil
}

// Invalidate deletes the user's entry outright. Mutation handlers call this
// synchronously for every affected user before reporting success.
func (c *PermissionCache) Invalidate(ctx context.Context, userID string) error {
	key, err := c.key(userID)
	if err != nil {
		return err
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("permission cache invalidate %s: %w", userID, err)
	}
	return nil
}

func (c *PermissionCache) key(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return permissionKeyPrefix + userID, nil
}
