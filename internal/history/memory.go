package history

import (
	"context"
	"encoding/json"
	"sync"

	xerrors "SkyAgents-Hub/internal/errors"
)

// MemoryStore 在内存中保留最近的 capacity 条记录。
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	records  []Record
}

// NewMemoryStore 创建有界的内存记录表，capacity 非正时使用 MaxLimit。
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = MaxLimit
	}
	return &MemoryStore{capacity: capacity}
}

// Save 实现 Store 接口；同一 attempt 重复写入时覆盖旧记录。
func (m *MemoryStore) Save(_ context.Context, record Record) error {
	if record.AttemptID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "attempt id is empty")
	}
	record.Data = append(json.RawMessage(nil), record.Data...)

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.records {
		if existing.AttemptID == record.AttemptID {
			m.records = append(m.records[:i], m.records[i+1:]...)
			break
		}
	}
	m.records = append([]Record{record}, m.records...)
	if len(m.records) > m.capacity {
		m.records = m.records[:m.capacity]
	}
	return nil
}

// List 实现 Store 接口。
func (m *MemoryStore) List(_ context.Context, query Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := query.limit()
	results := make([]Record, 0, min(limit, len(m.records)))
	for _, record := range m.records {
		if query.Agent != "" && record.Agent != query.Agent {
			continue
		}
		record.Data = append(json.RawMessage(nil), record.Data...)
		results = append(results, record)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
