// Package history journals finished execution attempts. The orchestrator
// writes one record per attempt when it first reaches a terminal status.
package history

import (
	"context"
	"encoding/json"
	"time"

	"SkyAgents-Hub/internal/workflow"
)

// DefaultLimit 是未指定 limit 时返回的记录数。
const DefaultLimit = 50

// MaxLimit 限制单次查询的记录数。
const MaxLimit = 500

// Record 是一次执行尝试的最终结果。
type Record struct {
	AttemptID  string          `json:"attempt_id"`
	Agent      string          `json:"agent"`
	AgentID    string          `json:"agent_id"`
	Prompt     string          `json:"prompt"`
	Status     workflow.Status `json:"status"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data,omitempty"`
	Steps      int             `json:"steps"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Query 描述历史查询条件，Agent 为空表示全部智能体。
type Query struct {
	Agent string
	Limit int
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}

// Store 抽象执行记录的持久化接口。
type Store interface {
	Save(ctx context.Context, record Record) error
	// List 按完成时间倒序返回记录。
	List(ctx context.Context, query Query) ([]Record, error)
	Close() error
}
