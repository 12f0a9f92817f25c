// Package state provides versioned, append-only state management for
// operation threads. Every write produces a new snapshot version, so any
// thread can be inspected or rewound to an earlier point in time.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/types"
)

// Snapshot is one immutable version of a thread's state.
type Snapshot struct {
	ThreadID      string         `json:"thread_id"`
	Version       int            `json:"version"`
	Values        map[string]any `json:"values"`
	ParentVersion int            `json:"parent_version,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Store persists snapshots. Implementations must treat snapshots as
// append-only: existing versions are never mutated.
type Store interface {
	Append(ctx context.Context, snapshot *Snapshot) error
	Latest(ctx context.Context, threadID string) (*Snapshot, error)
	Version(ctx context.Context, threadID string, version int) (*Snapshot, error)
	History(ctx context.Context, threadID string) ([]*Snapshot, error)
	Delete(ctx context.Context, threadID string) error
}

// ErrNotFound 构造快照缺失错误。
func ErrNotFound(threadID string) error {
	return &types.Error{
		Code:       types.ErrCheckpointNotFound,
		Message:    fmt.Sprintf("no state for thread: %s", threadID),
		HTTPStatus: 404,
	}
}

// =============================================================================
// 🧠 状态管理器
// =============================================================================

// Manager 状态管理器，所有写入都会生成新版本。
type Manager struct {
	store  Store
	logger *zap.Logger
	mu     sync.Mutex
}

// NewManager 创建状态管理器
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		logger: logger.With(zap.String("component", "state_manager")),
	}
}

// Put 合并变更并追加新版本。未出现在 updates 中的键保留上一版本的值。
func (m *Manager) Put(ctx context.Context, threadID string, updates map[string]any) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := make(map[string]any, len(updates))
	version := 1
	parent := 0

	latest, err := m.store.Latest(ctx, threadID)
	if err == nil && latest != nil {
		for k, v := range latest.Values {
			values[k] = v
		}
		version = latest.Version + 1
		parent = latest.Version
	}

	for k, v := range updates {
		values[k] = v
	}

	snapshot := &Snapshot{
		ThreadID:      threadID,
		Version:       version,
		Values:        values,
		ParentVersion: parent,
		CreatedAt:     time.Now(),
	}

	if err := m.store.Append(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to append snapshot: %w", err)
	}

	m.logger.Debug("state updated",
		zap.String("thread_id", threadID),
		zap.Int("version", version),
	)

	return snapshot, nil
}

// Get 返回线程的最新快照。
func (m *Manager) Get(ctx context.Context, threadID string) (*Snapshot, error) {
	return m.store.Latest(ctx, threadID)
}

// GetVersion 返回指定版本的快照。
func (m *Manager) GetVersion(ctx context.Context, threadID string, version int) (*Snapshot, error) {
	return m.store.Version(ctx, threadID, version)
}

// History 返回线程的全部版本，按版本升序。
func (m *Manager) History(ctx context.Context, threadID string) ([]*Snapshot, error) {
	return m.store.History(ctx, threadID)
}

// Rewind 把历史版本的值复制为一个新版本并返回，历史记录保持不变。
func (m *Manager) Rewind(ctx context.Context, threadID string, version int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.store.Version(ctx, threadID, version)
	if err != nil {
		return nil, err
	}

	latest, err := m.store.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(target.Values))
	for k, v := range target.Values {
		values[k] = v
	}

	snapshot := &Snapshot{
		ThreadID:      threadID,
		Version:       latest.Version + 1,
		Values:        values,
		ParentVersion: latest.Version,
		CreatedAt:     time.Now(),
		Metadata:      map[string]any{"rewound_from": version},
	}

	if err := m.store.Append(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to append rewind snapshot: %w", err)
	}

	m.logger.Info("state rewound",
		zap.String("thread_id", threadID),
		zap.Int("from_version", version),
		zap.Int("new_version", snapshot.Version),
	)

	return snapshot, nil
}

// Reset 删除线程的全部状态历史。
func (m *Manager) Reset(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(ctx, threadID)
}
