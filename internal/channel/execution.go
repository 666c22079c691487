package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cast"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/workflow"
	"SkyAgents-Hub/pkg/logger"
)

// 执行协议使用的事件名。
const (
	EventProcessRequest  = "process-request"
	EventExecutionResult = "execution-result"
	EventExecutionError  = "execution-error"
	EventMessage         = "message"
)

// DefaultErrorMessage 是 execution-error 未携带描述时使用的文本。
const DefaultErrorMessage = "Execution failed"

// ResultHandler 处理带外送达的执行结果。
type ResultHandler = func(agentKey string, payload json.RawMessage)

// ErrorHandler 处理带外送达的执行错误。
type ErrorHandler = func(agentKey, message string)

// Execution 在 Socket.IO 连接之上实现工作流提交协议。确认与带外事件
// 在读循环之外按智能体串行回调，慢回调只会推迟同一智能体的后续投递。
type Execution struct {
	client *Client
	lanes  *lanes
	logger *slog.Logger
	audit  *slog.Logger

	mu       sync.RWMutex
	onResult []ResultHandler
	onError  []ErrorHandler
}

// NewExecution 注册执行相关的事件监听。
func NewExecution(client *Client) *Execution {
	e := &Execution{
		client: client,
		lanes:  newLanes(),
		logger: logger.Named("execution-channel"),
		audit:  logger.Audit(),
	}
	client.On(EventExecutionResult, e.handleResult)
	client.On(EventExecutionError, e.handleError)
	client.On(EventMessage, func(args []json.RawMessage) {
		e.logger.Info("收到服务端消息", slog.Int("args", len(args)), slog.String("payload", preview(args)))
	})
	client.OnLifecycle(func(connected bool) {
		if connected {
			e.logger.Info("connect", slog.String("sid", client.SID()))
			return
		}
		e.logger.Warn("disconnect")
	})
	return e
}

// Connected 报告底层连接状态。
func (e *Execution) Connected() bool {
	return e.client.Connected()
}

// Submit 发送 process-request。未连接时同步返回 CHANNEL_DISCONNECTED 且不发送数据；
// done 在收到确认时最多调用一次，连接断开时挂起的确认会被丢弃。
func (e *Execution) Submit(ctx context.Context, req workflow.ExecutionRequest, agentKey string, done func(workflow.Ack)) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "submit cancelled")
	}
	var once sync.Once
	err := e.client.Emit(EventProcessRequest, func(args []json.RawMessage) {
		once.Do(func() {
			ack := decodeAck(args)
			e.logger.Debug("收到执行确认", slog.String("agent", agentKey), slog.Bool("error", ack.Error != ""))
			if done != nil {
				e.lanes.do(agentKey, func() { done(ack) })
			}
		})
	}, req)
	if err != nil {
		e.logger.Error("提交执行请求失败", slog.String("agent", agentKey), slog.Any("error", err))
		return err
	}
	e.audit.Info("execution submitted",
		slog.String("agent", agentKey),
		slog.Int("steps", len(req.Workflow)),
		slog.String("collection_id", req.Account.CollectionID),
		slog.String("asset_id", req.Account.AssetID),
	)
	return nil
}

// OnResult 订阅 execution-result 事件。
func (e *Execution) OnResult(fn ResultHandler) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.onResult = append(e.onResult, fn)
	e.mu.Unlock()
}

// OnError 订阅 execution-error 事件。
func (e *Execution) OnError(fn ErrorHandler) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.onError = append(e.onError, fn)
	e.mu.Unlock()
}

func (e *Execution) handleResult(args []json.RawMessage) {
	var body struct {
		AgentName any             `json:"agentName"`
		Result    json.RawMessage `json:"result"`
	}
	if len(args) == 0 || json.Unmarshal(args[0], &body) != nil {
		e.logger.Warn("execution-result 负载无法解析", slog.String("payload", preview(args)))
		return
	}
	agent := cast.ToString(body.AgentName)
	e.mu.RLock()
	handlers := append([]ResultHandler(nil), e.onResult...)
	e.mu.RUnlock()
	e.lanes.do(agent, func() {
		for _, fn := range handlers {
			fn(agent, body.Result)
		}
	})
}

func (e *Execution) handleError(args []json.RawMessage) {
	var body struct {
		AgentName any `json:"agentName"`
		Error     any `json:"error"`
	}
	if len(args) == 0 || json.Unmarshal(args[0], &body) != nil {
		e.logger.Warn("execution-error 负载无法解析", slog.String("payload", preview(args)))
		return
	}
	message := errorText(body.Error)
	if message == "" {
		message = DefaultErrorMessage
	}
	agent := cast.ToString(body.AgentName)
	e.mu.RLock()
	handlers := append([]ErrorHandler(nil), e.onError...)
	e.mu.RUnlock()
	e.lanes.do(agent, func() {
		for _, fn := range handlers {
			fn(agent, message)
		}
	})
}

// decodeAck 把确认的首个参数解析为 Ack；非对象负载整体作为 Raw 保留。
func decodeAck(args []json.RawMessage) workflow.Ack {
	if len(args) == 0 {
		return workflow.Ack{}
	}
	raw := args[0]
	ack := workflow.Ack{Raw: raw}
	var body struct {
		Error  any             `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		ack.Error = errorText(body.Error)
		ack.Result = body.Result
	}
	return ack
}

// errorText 兼容字符串与 {message} 两种错误形态。
func errorText(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case map[string]any:
		return cast.ToString(value["message"])
	case bool:
		if value {
			return DefaultErrorMessage
		}
		return ""
	default:
		return strings.TrimSpace(cast.ToString(value))
	}
}

func preview(args []json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	text := string(args[0])
	if len(text) > 256 {
		text = text[:256] + "..."
	}
	return text
}
