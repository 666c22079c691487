package orchestrator

import (
	"context"
	"sync"
	"time"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/workflow"
)

// Attempt 是一次执行尝试的句柄，终态到达时 Done 关闭。
type Attempt struct {
	id        string
	agent     workflow.Agent
	prompt    string
	startedAt time.Time

	// stateMu 串行化同一尝试的状态写入，防止确认先于
	// "awaiting execution result" 到达时被覆盖。
	stateMu  sync.Mutex
	terminal bool

	once       sync.Once
	done       chan struct{}
	mu         sync.RWMutex
	steps      int
	result     workflow.ExecutionResult
	code       xerrors.Code
	finishedAt time.Time
}

func newAttempt(id string, agent workflow.Agent, prompt string, startedAt time.Time) *Attempt {
	return &Attempt{
		id:        id,
		agent:     agent,
		prompt:    prompt,
		startedAt: startedAt,
		done:      make(chan struct{}),
	}
}

// ID 返回尝试标识。
func (a *Attempt) ID() string { return a.id }

// Agent 返回执行的智能体。
func (a *Attempt) Agent() workflow.Agent { return a.agent }

// StartedAt 返回尝试开始的时间。
func (a *Attempt) StartedAt() time.Time { return a.startedAt }

// Done 在尝试到达终态后关闭。
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result 返回终态结果；尚未结束时 ok 为 false。
func (a *Attempt) Result() (workflow.ExecutionResult, bool) {
	select {
	case <-a.done:
	default:
		return workflow.ExecutionResult{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.result, true
}

// Code 返回失败时的错误码，成功或未结束时为空。
func (a *Attempt) Code() xerrors.Code {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.code
}

// Wait 阻塞直到尝试结束或 ctx 结束。
func (a *Attempt) Wait(ctx context.Context) (workflow.ExecutionResult, error) {
	select {
	case <-a.done:
		result, _ := a.Result()
		return result, nil
	case <-ctx.Done():
		return workflow.ExecutionResult{}, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "wait for execution result")
	}
}

func (a *Attempt) setSteps(n int) {
	a.mu.Lock()
	a.steps = n
	a.mu.Unlock()
}

func (a *Attempt) stepCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.steps
}

func (a *Attempt) isTerminal() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.terminal
}

// resolve 只在首次调用时记录结果并关闭 Done，返回是否为首次。
func (a *Attempt) resolve(result workflow.ExecutionResult, code xerrors.Code, at time.Time) bool {
	first := false
	a.once.Do(func() {
		a.mu.Lock()
		a.result = result
		a.code = code
		a.finishedAt = at
		a.mu.Unlock()
		close(a.done)
		first = true
	})
	return first
}
