package status

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/workflow"
)

// slot 持有单个智能体的条目，按键加锁。
type slot struct {
	mu    sync.Mutex
	entry *Entry
}

// MemoryStore 以内存方式保存状态表。
type MemoryStore struct {
	slots sync.Map
	now   func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) slot(agent string) *slot {
	value, _ := m.slots.LoadOrStore(agent, &slot{})
	return value.(*slot)
}

// Begin 实现 Store 接口。
func (m *MemoryStore) Begin(_ context.Context, agent, attemptID string, result workflow.ExecutionResult, exclusive bool) error {
	if err := validAgent(agent); err != nil {
		return err
	}
	s := m.slot(agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if exclusive && s.entry != nil && s.entry.Status.Live() {
		return xerrors.New(xerrors.CodeAttemptInProgress, "")
	}
	s.entry = m.entry(agent, attemptID, result)
	return nil
}

// Update 实现 Store 接口。
func (m *MemoryStore) Update(_ context.Context, agent, attemptID string, result workflow.ExecutionResult) (bool, error) {
	if err := validAgent(agent); err != nil {
		return false, err
	}
	s := m.slot(agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil || s.entry.AttemptID != attemptID {
		return false, nil
	}
	s.entry = m.entry(agent, attemptID, result)
	return true, nil
}

// Resolve 实现 Store 接口。
func (m *MemoryStore) Resolve(_ context.Context, agent string, result workflow.ExecutionResult) (string, error) {
	if err := validAgent(agent); err != nil {
		return "", err
	}
	s := m.slot(agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	attemptID := ""
	if s.entry != nil {
		attemptID = s.entry.AttemptID
	}
	s.entry = m.entry(agent, attemptID, result)
	return attemptID, nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, agent string) (Entry, error) {
	value, ok := m.slots.Load(agent)
	if !ok {
		return Entry{}, ErrNotFound
	}
	s := value.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(s.entry), nil
}

// List 实现 Store 接口。
func (m *MemoryStore) List(_ context.Context) ([]Entry, error) {
	entries := make([]Entry, 0)
	m.slots.Range(func(_, value any) bool {
		s := value.(*slot)
		s.mu.Lock()
		if s.entry != nil {
			entries = append(entries, cloneEntry(s.entry))
		}
		s.mu.Unlock()
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Agent < entries[j].Agent })
	return entries, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) entry(agent, attemptID string, result workflow.ExecutionResult) *Entry {
	result.Data = cloneData(result.Data)
	return &Entry{ExecutionResult: result, Agent: agent, AttemptID: attemptID, UpdatedAt: m.now().UTC()}
}

func cloneEntry(e *Entry) Entry {
	clone := *e
	clone.Data = cloneData(e.Data)
	return clone
}
