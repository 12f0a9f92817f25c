package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/socialflow/types"
)

// RunStatus 工作流运行状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunRejected  RunStatus = "rejected"
)

// Checkpoint 记录某次运行在一个节点完成后的状态快照。
// StepIndex 指向下一个待执行的节点，Resume 从这里继续。
type Checkpoint struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow"`
	StepIndex int       `json:"step_index"`
	StepName  string    `json:"step_name"` // 刚完成的节点
	State     State     `json:"state"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckpointStore 检查点持久化接口
type CheckpointStore interface {
	// Save 保存检查点
	Save(ctx context.Context, cp *Checkpoint) error
	// Load 按 ID 加载检查点
	Load(ctx context.Context, id string) (*Checkpoint, error)
	// ListByRun 按创建顺序返回一次运行的全部检查点
	ListByRun(ctx context.Context, runID string) ([]*Checkpoint, error)
	// DeleteRun 删除一次运行的全部检查点
	DeleteRun(ctx context.Context, runID string) error
}

func errCheckpointNotFound(id string) error {
	return types.NewError(types.ErrCheckpointNotFound,
		fmt.Sprintf("checkpoint not found: %s", id)).WithHTTPStatus(404)
}

// =============================================================================
// 💾 内存检查点存储
// =============================================================================

// InMemoryCheckpointStore 进程内检查点存储，用于测试和单机部署。
type InMemoryCheckpointStore struct {
	mu   sync.RWMutex
	byID map[string]*Checkpoint
	runs map[string][]string // runID → 检查点 ID，按保存顺序
}

// NewInMemoryCheckpointStore 创建内存检查点存储
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{
		byID: make(map[string]*Checkpoint),
		runs: make(map[string][]string),
	}
}

func (s *InMemoryCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *cp
	clone.State = cp.State.Clone()
	s.byID[cp.ID] = &clone
	s.runs[cp.RunID] = append(s.runs[cp.RunID], cp.ID)
	return nil
}

func (s *InMemoryCheckpointStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.byID[id]
	if !ok {
		return nil, errCheckpointNotFound(id)
	}
	clone := *cp
	clone.State = cp.State.Clone()
	return &clone, nil
}

func (s *InMemoryCheckpointStore) ListByRun(ctx context.Context, runID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.runs[runID]
	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		if cp, ok := s.byID[id]; ok {
			clone := *cp
			clone.State = cp.State.Clone()
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *InMemoryCheckpointStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.runs[runID] {
		delete(s.byID, id)
	}
	delete(s.runs, runID)
	return nil
}

// =============================================================================
// 💾 Redis 检查点存储
// =============================================================================

// RedisCheckpointStore 每个检查点一个键，按运行维护一个有序集合索引。
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCheckpointStore 创建 Redis 检查点存储
func NewRedisCheckpointStore(client *redis.Client, prefix string) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "socialflow:ckpt"
	}
	return &RedisCheckpointStore{client: client, prefix: prefix}
}

func (s *RedisCheckpointStore) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

func (s *RedisCheckpointStore) runIndexKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, runID)
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(cp.ID), data, 0)
	pipe.ZAdd(ctx, s.runIndexKey(cp.RunID), redis.Z{
		Score:  float64(cp.CreatedAt.UnixNano()),
		Member: cp.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return nil
}

func (s *RedisCheckpointStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, errCheckpointNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *RedisCheckpointStore) ListByRun(ctx context.Context, runID string) ([]*Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.runIndexKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}

	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	// ZAdd 分数相同（同纳秒）时按成员排序，这里按保存时间再稳定一次
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *RedisCheckpointStore) DeleteRun(ctx context.Context, runID string) error {
	ids, err := s.client.ZRange(ctx, s.runIndexKey(runID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read run index: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.runIndexKey(runID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
