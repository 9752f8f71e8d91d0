package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMembershipStore stores subject->roles in Redis sets (key: authzmem:{subjectID})
type RedisMembershipStore struct {
	client *redis.Client
	keyFmt string
}

func NewRedisMembershipStore(client *redis.Client) *RedisMembershipStore {
	return &RedisMembershipStore{client: client, keyFmt: "authzmem:%s"}
}

func (r *RedisMembershipStore) key(subjectID string) string {
	return fmt.Sprintf(r.keyFmt, subjectID)
}

func (r *RedisMembershipStore) AssignRole(ctx context.Context, subjectID, roleID string) error {
	return r.client.SAdd(ctx, r.key(subjectID), roleID).Err()
}

func (r *RedisMembershipStore) RevokeRole(ctx context.Context, subjectID, roleID string) error {
	return r.client.SRem(ctx, r.key(subjectID), roleID).Err()
}

func (r *RedisMembershipStore) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(subjectID)).Result()
}
