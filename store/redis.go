package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pipeworks-ai/conductor/workflow"
)

// RedisConfig configures the Redis-backed instance store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisInstanceStore persists instances as JSON documents in Redis, with a
// sorted-set index by creation time and per-status index sets. Suitable for
// multi-process deployments where workflows must survive restarts.
type RedisInstanceStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisInstanceStore connects to Redis and verifies the connection.
func NewRedisInstanceStore(cfg RedisConfig) (*RedisInstanceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "conductor:"
	}
	return &RedisInstanceStore{client: client, keyPrefix: prefix + "wf:"}, nil
}

// NewRedisInstanceStoreFromClient wraps an existing client; used by tests.
func NewRedisInstanceStoreFromClient(client *redis.Client, keyPrefix string) *RedisInstanceStore {
	if keyPrefix == "" {
		keyPrefix = "conductor:"
	}
	return &RedisInstanceStore{client: client, keyPrefix: keyPrefix + "wf:"}
}

// Close releases the underlying client.
func (s *RedisInstanceStore) Close() error {
	return s.client.Close()
}

func (s *RedisInstanceStore) dataKey(id string) string { return s.keyPrefix + "data:" + id }

func (s *RedisInstanceStore) allKey() string { return s.keyPrefix + "all" }

func (s *RedisInstanceStore) statusKey(st workflow.Status) string {
	return s.keyPrefix + "status:" + string(st)
}

func (s *RedisInstanceStore) Save(ctx context.Context, inst *workflow.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	// Re-index: drop the instance from any status set it may have been in.
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(inst.ID), data, 0)
	pipe.ZAdd(ctx, s.allKey(), redis.Z{
		Score:  float64(inst.CreatedAt.UnixNano()),
		Member: inst.ID,
	})
	for _, st := range allStatuses {
		if st == inst.Status {
			pipe.SAdd(ctx, s.statusKey(st), inst.ID)
		} else {
			pipe.SRem(ctx, s.statusKey(st), inst.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

func (s *RedisInstanceStore) Load(ctx context.Context, workflowID string) (*workflow.Instance, error) {
	data, err := s.client.Get(ctx, s.dataKey(workflowID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	var inst workflow.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &inst, nil
}

func (s *RedisInstanceStore) List(ctx context.Context, filter Filter) ([]*workflow.Instance, error) {
	// Newest first via the creation-time index.
	ids, err := s.client.ZRevRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var results []*workflow.Instance
	for _, id := range ids {
		inst, err := s.Load(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !filter.matches(inst) {
			continue
		}
		results = append(results, inst)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

func (s *RedisInstanceStore) Delete(ctx context.Context, workflowID string) error {
	inst, err := s.Load(ctx, workflowID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(workflowID))
	pipe.ZRem(ctx, s.allKey(), workflowID)
	pipe.SRem(ctx, s.statusKey(inst.Status), workflowID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

var allStatuses = []workflow.Status{
	workflow.StatusInitializing,
	workflow.StatusRunning,
	workflow.StatusPaused,
	workflow.StatusPausedForElicitation,
	workflow.StatusRollingBack,
	workflow.StatusRolledBack,
	workflow.StatusCompleted,
	workflow.StatusError,
	workflow.StatusCancelled,
}
