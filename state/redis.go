package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists snapshots in Redis. Each version lives under its own
// key and a sorted set per thread indexes versions in order.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed snapshot store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "socialflow:state"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) versionKey(threadID string, version int) string {
	return fmt.Sprintf("%s:%s:v%d", s.prefix, threadID, version)
}

func (s *RedisStore) indexKey(threadID string) string {
	return fmt.Sprintf("%s:%s:index", s.prefix, threadID)
}

func (s *RedisStore) Append(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.versionKey(snapshot.ThreadID, snapshot.Version), data, 0)
	pipe.ZAdd(ctx, s.indexKey(snapshot.ThreadID), redis.Z{
		Score:  float64(snapshot.Version),
		Member: snapshot.Version,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, threadID string) (*Snapshot, error) {
	versions, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read version index: %w", err)
	}
	if len(versions) == 0 {
		return nil, ErrNotFound(threadID)
	}
	return s.load(ctx, threadID, versions[0])
}

func (s *RedisStore) Version(ctx context.Context, threadID string, version int) (*Snapshot, error) {
	return s.load(ctx, threadID, fmt.Sprintf("%d", version))
}

func (s *RedisStore) load(ctx context.Context, threadID, version string) (*Snapshot, error) {
	key := fmt.Sprintf("%s:%s:v%s", s.prefix, threadID, version)
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound(threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *RedisStore) History(ctx context.Context, threadID string) ([]*Snapshot, error) {
	versions, err := s.client.ZRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read version index: %w", err)
	}

	snapshots := make([]*Snapshot, 0, len(versions))
	for _, v := range versions {
		snapshot, err := s.load(ctx, threadID, v)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	versions, err := s.client.ZRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read version index: %w", err)
	}

	keys := make([]string, 0, len(versions)+1)
	for _, v := range versions {
		keys = append(keys, fmt.Sprintf("%s:%s:v%s", s.prefix, threadID, v))
	}
	keys = append(keys, s.indexKey(threadID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}
