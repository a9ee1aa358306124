package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints as JSON documents. Expiry is delegated
// to Redis TTLs, so expired checkpoints disappear without a sweeper.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore wraps a Redis client for checkpoint storage.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "conductor:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "ckpt:"}
}

func (s *RedisStore) dataKey(id string) string { return s.keyPrefix + "data:" + id }

func (s *RedisStore) indexKey(workflowID string) string {
	return s.keyPrefix + "wf:" + workflowID
}

func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	var ttl time.Duration
	if cp.ExpiresAt != nil {
		ttl = time.Until(*cp.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("checkpoint %s already expired", cp.ID)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(cp.ID), data, ttl)
	pipe.ZAdd(ctx, s.indexKey(cp.WorkflowID), redis.Z{
		Score:  float64(cp.CreatedAt.UnixNano()),
		Member: cp.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.dataKey(checkpointID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *RedisStore) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var results []*Checkpoint
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err == ErrNotFound {
			// TTL-expired data; drop the stale index entry.
			s.client.ZRem(ctx, s.indexKey(workflowID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, cp)
	}
	return results, nil
}

func (s *RedisStore) Delete(ctx context.Context, checkpointID string) error {
	cp, err := s.Load(ctx, checkpointID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(checkpointID))
	pipe.ZRem(ctx, s.indexKey(cp.WorkflowID), checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
