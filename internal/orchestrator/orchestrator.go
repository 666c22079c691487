package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/events"
	"SkyAgents-Hub/internal/history"
	"SkyAgents-Hub/internal/observability/metrics"
	"SkyAgents-Hub/internal/status"
	"SkyAgents-Hub/internal/workflow"
	"SkyAgents-Hub/pkg/logger"
)

const defaultWriteTimeout = 10 * time.Second

// 状态条目使用的描述文本。
const (
	MessageFetching  = "fetching workflow"
	MessagePreparing = "preparing execution"
	MessageAwaiting  = "awaiting execution result"
	MessageCompleted = "Execution completed successfully"
	MessageFailed    = "Execution failed"
)

// Catalog 提供智能体的工作流定义。
type Catalog interface {
	GetWorkflow(ctx context.Context, identifier string) ([]workflow.Step, error)
}

// Authenticator 是钱包登录与签名能力。
type Authenticator interface {
	IsReady() bool
	Login(ctx context.Context) (string, error)
	Sign(ctx context.Context, message string) (string, error)
}

// Channel 是实时执行通道。
type Channel interface {
	Submit(ctx context.Context, req workflow.ExecutionRequest, agentKey string, done func(workflow.Ack)) error
	OnResult(fn func(agentKey string, payload json.RawMessage))
	OnError(fn func(agentKey, message string))
}

// Request 描述一次执行请求；Account 为空时使用默认账户。
type Request struct {
	Agent   workflow.Agent
	Prompt  string
	Account *workflow.AccountRef
}

// Orchestrator 负责执行尝试的完整生命周期，并独占状态表的写入。
type Orchestrator struct {
	catalog   Catalog
	auth      Authenticator
	channel   Channel
	store     status.Store
	history   history.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	audit     *slog.Logger

	account      workflow.AccountRef
	concurrent   bool
	writeTimeout time.Duration
	now          func() time.Time
	newID        func() string

	mu   sync.Mutex
	live map[string]*Attempt
}

// Option 定义可选配置。
type Option func(*Orchestrator)

// WithHistory 在尝试结束时写入执行记录。
func WithHistory(store history.Store) Option {
	return func(o *Orchestrator) { o.history = store }
}

// WithPublisher 投递每一次状态变化。
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics 记录尝试数量与耗时。
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDefaultAccount 设置请求未指定账户时使用的资产。
func WithDefaultAccount(account workflow.AccountRef) Option {
	return func(o *Orchestrator) { o.account = normalizeAccount(account, workflow.DefaultAccount()) }
}

// WithConcurrentAttempts 为 true 时允许同一智能体同时存在多个进行中的尝试，
// 新尝试直接覆盖旧条目。
func WithConcurrentAttempts(allow bool) Option {
	return func(o *Orchestrator) { o.concurrent = allow }
}

// WithWriteTimeout 限制单次状态、记录与事件写入的耗时。
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator 替换尝试 ID 生成方式。
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New 创建编排器并订阅通道的带外事件。
func New(catalog Catalog, auth Authenticator, channel Channel, store status.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog: catalog,
		auth:    auth,
		channel: channel,
		store:   store,
		logger:  logger.Named("orchestrator"),
		audit:   logger.Audit(),
		account:      workflow.DefaultAccount(),
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
		live:         make(map[string]*Attempt),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	channel.OnResult(o.handleResultEvent)
	channel.OnError(o.handleErrorEvent)
	return o
}

// Execute 校验前置条件后同步完成获取工作流、登录签名与提交，
// 返回的 Attempt 在确认或带外事件到达后结束。调用方的取消不会中断
// 已开始的尝试，需要限时等待时使用 Attempt.Wait。
//
// 只有前置条件不满足（PRECONDITION_FAILED）或已有进行中的尝试
// （ATTEMPT_IN_PROGRESS）时返回错误，此时状态表不会被修改。
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Attempt, error) {
	if err := o.checkPreconditions(req); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	agent := req.Agent
	attempt := newAttempt(o.newID(), agent, req.Prompt, o.now().UTC())
	pending := workflow.ExecutionResult{Status: workflow.StatusPending, Message: MessageFetching}
	wctx, cancel := o.writeContext(ctx)
	err := o.store.Begin(wctx, agent.Name, attempt.id, pending, !o.concurrent)
	cancel()
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeAttemptInProgress) {
			o.logger.Info("已有进行中的执行，拒绝新的请求", slog.String("agent", agent.Name))
		}
		return nil, err
	}

	o.mu.Lock()
	previous := o.live[agent.Name]
	o.live[agent.Name] = attempt
	o.mu.Unlock()
	if previous != nil && !previous.isTerminal() {
		o.logger.Warn("覆盖仍在进行中的执行", slog.String("agent", agent.Name), slog.String("previous", previous.id))
	}

	o.metrics.AttemptStarted()
	o.audit.Info("execution attempt started",
		slog.String("attempt_id", attempt.id),
		slog.String("agent", agent.Name),
		slog.String("agent_id", agent.Identifier),
	)
	o.publish(ctx, attempt.id, agent.Name, pending, "")

	o.run(ctx, attempt, req)
	return attempt, nil
}

func (o *Orchestrator) checkPreconditions(req Request) error {
	if strings.TrimSpace(req.Agent.Name) == "" || strings.TrimSpace(req.Agent.Identifier) == "" {
		return xerrors.New(xerrors.CodePreconditionFailed, "an agent must be selected")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return xerrors.New(xerrors.CodePreconditionFailed, "prompt must not be empty")
	}
	if o.auth == nil || !o.auth.IsReady() {
		return xerrors.Wrap(xerrors.CodePreconditionFailed,
			xerrors.New(xerrors.CodeNotInitialized, ""), "authentication is not ready")
	}
	return nil
}

// run 依次完成步骤 2 到 5，任一步失败即写入 Error 并返回。
func (o *Orchestrator) run(ctx context.Context, attempt *Attempt, req Request) {
	agent := attempt.agent

	steps, err := o.catalog.GetWorkflow(ctx, agent.Identifier)
	if err != nil {
		o.fail(ctx, attempt, err)
		return
	}
	attempt.setSteps(len(steps))

	if !o.transition(ctx, attempt, MessagePreparing) {
		return
	}

	if _, err := o.auth.Login(ctx); err != nil {
		o.fail(ctx, attempt, err)
		return
	}
	signature, err := o.auth.Sign(ctx, workflow.SigningMessage(req.Prompt))
	if err != nil {
		o.fail(ctx, attempt, err)
		return
	}

	account := o.account
	if req.Account != nil {
		account = normalizeAccount(*req.Account, o.account)
	}
	request := workflow.ExecutionRequest{
		Prompt:        req.Prompt,
		AuthSignature: signature,
		Account:       account,
		Workflow:      steps,
	}

	if attempt.isTerminal() {
		return
	}
	if err := o.channel.Submit(ctx, request, agent.Name, func(ack workflow.Ack) {
		o.handleAck(attempt, ack)
	}); err != nil {
		o.fail(ctx, attempt, err)
		return
	}
	o.transition(ctx, attempt, MessageAwaiting)
}

// transition 写入 Running 状态；尝试已结束时不再覆盖，返回 false。
func (o *Orchestrator) transition(ctx context.Context, attempt *Attempt, message string) bool {
	result := workflow.ExecutionResult{Status: workflow.StatusRunning, Message: message}

	attempt.stateMu.Lock()
	if attempt.terminal {
		attempt.stateMu.Unlock()
		return false
	}
	wctx, cancel := o.writeContext(ctx)
	applied, err := o.store.Update(wctx, attempt.agent.Name, attempt.id, result)
	cancel()
	attempt.stateMu.Unlock()

	if err != nil {
		o.logger.Error("写入执行状态失败", slog.String("agent", attempt.agent.Name), slog.Any("error", err))
	}
	if applied {
		o.publish(ctx, attempt.id, attempt.agent.Name, result, "")
	}
	return true
}

func (o *Orchestrator) fail(ctx context.Context, attempt *Attempt, err error) {
	message := xerrors.Describe(err)
	if message == "" {
		message = MessageFailed
	}
	o.logger.Warn("执行失败",
		slog.String("agent", attempt.agent.Name),
		slog.String("attempt_id", attempt.id),
		slog.Any("error", err),
	)
	o.settle(ctx, attempt, workflow.ExecutionResult{Status: workflow.StatusError, Message: message}, xerrors.CodeOf(err))
}

func (o *Orchestrator) handleAck(attempt *Attempt, ack workflow.Ack) {
	o.mu.Lock()
	current := o.live[attempt.agent.Name]
	o.mu.Unlock()

	result, code := resultFromAck(ack)
	if current != attempt {
		o.logger.Info("忽略已被取代的执行确认",
			slog.String("agent", attempt.agent.Name),
			slog.String("attempt_id", attempt.id),
		)
		o.finalize(context.Background(), attempt, result, code, false)
		return
	}
	o.settle(context.Background(), attempt, result, code)
}

// settle 写入终态。状态在每次送达时都会重写，副作用只发生一次。
func (o *Orchestrator) settle(ctx context.Context, attempt *Attempt, result workflow.ExecutionResult, code xerrors.Code) {
	attempt.stateMu.Lock()
	wctx, cancel := o.writeContext(ctx)
	applied, err := o.store.Update(wctx, attempt.agent.Name, attempt.id, result)
	cancel()
	attempt.terminal = true
	attempt.stateMu.Unlock()

	if err != nil {
		o.logger.Error("写入执行结果失败", slog.String("agent", attempt.agent.Name), slog.Any("error", err))
	}
	o.finalize(ctx, attempt, result, code, applied)
}

// handleResultEvent 处理 execution-result，按智能体名称无条件写入。
func (o *Orchestrator) handleResultEvent(agentKey string, payload json.RawMessage) {
	result := workflow.ExecutionResult{Status: workflow.StatusCompleted, Message: MessageCompleted, Data: cloneRaw(payload)}
	o.resolveByAgent(agentKey, result, "")
}

// handleErrorEvent 处理 execution-error。
func (o *Orchestrator) handleErrorEvent(agentKey, message string) {
	if strings.TrimSpace(message) == "" {
		message = MessageFailed
	}
	result := workflow.ExecutionResult{Status: workflow.StatusError, Message: message}
	o.resolveByAgent(agentKey, result, xerrors.CodeRemoteExecutionError)
}

func (o *Orchestrator) resolveByAgent(agentKey string, result workflow.ExecutionResult, code xerrors.Code) {
	if agentKey == "" {
		o.logger.Warn("带外事件缺少 agentName，已忽略", slog.String("status", string(result.Status)))
		return
	}
	ctx := context.Background()

	o.mu.Lock()
	attempt := o.live[agentKey]
	o.mu.Unlock()

	if attempt != nil {
		attempt.stateMu.Lock()
	}
	wctx, cancel := o.writeContext(ctx)
	owner, err := o.store.Resolve(wctx, agentKey, result)
	cancel()
	if attempt != nil {
		if err == nil && owner == attempt.id {
			attempt.terminal = true
		}
		attempt.stateMu.Unlock()
	}
	if err != nil {
		o.logger.Error("写入带外执行结果失败", slog.String("agent", agentKey), slog.Any("error", err))
		return
	}

	if attempt != nil && owner == attempt.id {
		o.finalize(ctx, attempt, result, code, true)
		return
	}
	o.logger.Info("带外事件更新了非本进程发起的执行", slog.String("agent", agentKey), slog.String("attempt_id", owner))
	o.publish(ctx, owner, agentKey, result, code)
}

// finalize 在尝试首次结束时完成 Future、写入历史、投递事件并记录指标。
func (o *Orchestrator) finalize(ctx context.Context, attempt *Attempt, result workflow.ExecutionResult, code xerrors.Code, publish bool) {
	finishedAt := o.now().UTC()
	if !attempt.resolve(result, code, finishedAt) {
		return
	}

	codeLabel := "OK"
	if code != "" {
		codeLabel = string(code)
	}
	o.metrics.AttemptFinished(string(result.Status), codeLabel, finishedAt.Sub(attempt.startedAt))
	o.audit.Info("execution attempt finished",
		slog.String("attempt_id", attempt.id),
		slog.String("agent", attempt.agent.Name),
		slog.String("status", string(result.Status)),
		slog.String("message", result.Message),
	)

	if o.history != nil {
		record := history.Record{
			AttemptID:  attempt.id,
			Agent:      attempt.agent.Name,
			AgentID:    attempt.agent.Identifier,
			Prompt:     attempt.prompt,
			Status:     result.Status,
			Message:    result.Message,
			Data:       result.Data,
			Steps:      attempt.stepCount(),
			StartedAt:  attempt.startedAt,
			FinishedAt: finishedAt,
		}
		wctx, cancel := o.writeContext(ctx)
		err := o.history.Save(wctx, record)
		cancel()
		if err != nil {
			o.logger.Error("写入执行记录失败", slog.String("attempt_id", attempt.id), slog.Any("error", err))
		}
	}
	if publish {
		o.publish(ctx, attempt.id, attempt.agent.Name, result, code)
	}
}

func (o *Orchestrator) publish(ctx context.Context, attemptID, agent string, result workflow.ExecutionResult, code xerrors.Code) {
	if o.publisher == nil {
		return
	}
	severity := xerrors.SeverityInfo
	if result.Status == workflow.StatusError {
		severity = xerrors.AttributesOf(code).Severity
	}
	event := events.Event{
		AttemptID:  attemptID,
		Agent:      agent,
		Status:     result.Status,
		Message:    result.Message,
		Code:       code,
		Severity:   severity,
		OccurredAt: o.now().UTC(),
	}
	wctx, cancel := o.writeContext(ctx)
	defer cancel()
	if err := o.publisher.Publish(wctx, event); err != nil {
		o.logger.Warn("投递状态事件失败", slog.String("agent", agent), slog.Any("error", err))
	}
}

// Status 返回单个智能体的状态快照，未执行过时返回 status.ErrNotFound。
func (o *Orchestrator) Status(ctx context.Context, agent string) (status.Entry, error) {
	return o.store.Get(ctx, agent)
}

// Statuses 返回全部智能体的状态快照。
func (o *Orchestrator) Statuses(ctx context.Context) ([]status.Entry, error) {
	return o.store.List(ctx)
}

// History 返回已结束的执行记录。
func (o *Orchestrator) History(ctx context.Context, query history.Query) ([]history.Record, error) {
	if o.history == nil {
		return []history.Record{}, nil
	}
	return o.history.List(ctx, query)
}

// Current 返回本进程中该智能体最近一次的尝试。
func (o *Orchestrator) Current(agent string) *Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.live[agent]
}

// writeContext 让写入不受调用方取消影响，但每次写入最多等待 writeTimeout。
func (o *Orchestrator) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.writeTimeout)
}

func resultFromAck(ack workflow.Ack) (workflow.ExecutionResult, xerrors.Code) {
	if ack.Error != "" {
		return workflow.ExecutionResult{Status: workflow.StatusError, Message: ack.Error}, xerrors.CodeRemoteExecutionError
	}
	return workflow.ExecutionResult{
		Status:  workflow.StatusCompleted,
		Message: MessageCompleted,
		Data:    cloneRaw(ack.Payload()),
	}, ""
}

func normalizeAccount(account, fallback workflow.AccountRef) workflow.AccountRef {
	if strings.TrimSpace(account.CollectionID) == "" {
		account.CollectionID = fallback.CollectionID
	}
	if strings.TrimSpace(account.AssetID) == "" {
		account.AssetID = fallback.AssetID
	}
	return account
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
