// Package status keeps the per-agent execution status map. Each agent has at
// most one live entry; an entry remembers the attempt that owns it so late
// acknowledgments of a superseded attempt cannot overwrite a newer one.
package status

import (
	"context"
	"encoding/json"
	"time"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/workflow"
)

// Entry 是状态表中的一行。
type Entry struct {
	workflow.ExecutionResult
	Agent     string    `json:"agent"`
	AttemptID string    `json:"attempt_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrNotFound 表示该智能体尚无状态（Idle）。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "no execution status for this agent")

// Store 抽象了状态表的存储。
type Store interface {
	// Begin 为新的执行尝试写入首个状态。exclusive 为 true 且已有进行中的
	// 尝试时返回 ATTEMPT_IN_PROGRESS，不做任何修改。
	Begin(ctx context.Context, agent, attemptID string, result workflow.ExecutionResult, exclusive bool) error
	// Update 仅当当前条目属于 attemptID 时写入，返回是否生效。
	Update(ctx context.Context, agent, attemptID string, result workflow.ExecutionResult) (bool, error)
	// Resolve 无条件写入带外送达的结果，返回被覆盖条目的 attemptID。
	Resolve(ctx context.Context, agent string, result workflow.ExecutionResult) (string, error)
	Get(ctx context.Context, agent string) (Entry, error)
	// List 按智能体名称排序返回全部条目。
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

func cloneData(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), data...)
}

func validAgent(agent string) error {
	if agent == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent name is empty")
	}
	return nil
}
