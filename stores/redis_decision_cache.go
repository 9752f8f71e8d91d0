package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quartzboard/authz"
)

// RedisDecisionCache keeps memoized policy decisions in Redis with per-key
// TTL (key: authzdecision:{user}:{type}:{id}:{action}). Redis expiry handles
// aging so PurgeExpired is a no-op.
type RedisDecisionCache struct {
	client *redis.Client
}

func NewRedisDecisionCache(client *redis.Client) *RedisDecisionCache {
	return &RedisDecisionCache{client: client}
}

func decisionKey(userID, resourceType, resourceID, action string) string {
	return fmt.Sprintf("authzdecision:%s:%s:%s:%s", userID, resourceType, resourceID, action)
}

func (r *RedisDecisionCache) Get(ctx context.Context, userID, resourceType, resourceID, action string) (*authz.CachedDecision, error) {
	raw, err := r.client.Get(ctx, decisionKey(userID, resourceType, resourceID, action)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	d := &authz.CachedDecision{}
	if err := json.Unmarshal([]byte(raw), d); err != nil {
		return nil, fmt.Errorf("decode cached decision: %w", err)
	}
	if d.IsExpired() {
		return nil, nil
	}
	return d, nil
}

func (r *RedisDecisionCache) Put(ctx context.Context, d *authz.CachedDecision) error {
	ttl := time.Until(d.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, decisionKey(d.UserID, d.ResourceType, d.ResourceID, d.Action), raw, ttl).Err()
}

func (r *RedisDecisionCache) DeleteByUser(ctx context.Context, userID string) error {
	pattern := fmt.Sprintf("authzdecision:%s:*", userID)
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// PurgeExpired is satisfied by Redis key expiry.
func (r *RedisDecisionCache) PurgeExpired(ctx context.Context) error {
	return nil
}
