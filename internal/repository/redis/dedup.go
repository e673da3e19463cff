package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/SMI/cohort-tracker/internal/repository"
)

var _ repository.DedupStore = (*redisDedup)(nil)

const (
	seenKeyPrefix = "cohorttracker:msg:"
	seenTTL       = 24 * time.Hour
)

type redisDedup struct {
	client *goredis.Client
}

// NewRedisDedupStore creates a Redis-backed message dedup store using SETNX.
func NewRedisDedupStore(client *goredis.Client) repository.DedupStore {
	return &redisDedup{client: client}
}

// FirstDelivery uses SETNX to atomically claim a message ID. The TTL bounds
// memory; a redelivery after expiry is absorbed by the engine's own
// idempotency.
func (r *redisDedup) FirstDelivery(ctx context.Context, messageID uuid.UUID) (bool, error) {
	key := seenKeyPrefix + messageID.String()
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), seenTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: first delivery: %w", err)
	}
	return ok, nil
}

// Forget drops the seen-marker so a requeued message is not skipped when it
// comes back.
func (r *redisDedup) Forget(ctx context.Context, messageID uuid.UUID) error {
	key := seenKeyPrefix + messageID.String()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: forget: %w", err)
	}
	return nil
}
