package workflow

import (
	"encoding/json"
	"strings"
)

// Agent 是目录服务中的一个可执行智能体。
type Agent struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Identifier  string `json:"id"`
}

// Step 是智能体工作流中的一个步骤，StepNumber 从 1 开始并与源顺序一致。
type Step struct {
	StepID       string   `json:"stepId"`
	StepNumber   int      `json:"stepNumber"`
	ServiceName  string   `json:"serviceName"`
	ServiceURL   string   `json:"serviceUrl"`
	Prompt       string   `json:"prompt"`
	InputItemIDs []string `json:"inputItemID"`
	Output       any      `json:"output"`
	SystemPrompt string   `json:"systemPrompt"`
	Description  string   `json:"description"`
}

// AccountRef 指向授权本次执行的账户资产。
type AccountRef struct {
	CollectionID string `json:"collectionID"`
	AssetID      string `json:"nftID"`
}

// DefaultAccount 是未选择资产时使用的账户引用。
func DefaultAccount() AccountRef {
	return AccountRef{CollectionID: "0", AssetID: "0"}
}

// ExecutionRequest 是通过实时通道提交的签名执行请求。
type ExecutionRequest struct {
	Prompt        string     `json:"prompt"`
	AuthSignature string     `json:"userAuthPayload"`
	Account       AccountRef `json:"accountNFT"`
	Workflow      []Step     `json:"workflow"`
}

// Status 表示单个智能体执行的生命周期状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Live 判断状态是否表示一次仍在进行的执行。
func (s Status) Live() bool {
	return s == StatusPending || s == StatusRunning
}

// Valid 检查状态是否为支持的枚举值。
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// ExecutionResult 是某个智能体当前的执行状态。
type ExecutionResult struct {
	Status  Status          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Ack 是服务端对 process-request 的确认。
type Ack struct {
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	// Raw 保留完整的确认内容，Result 缺失时作为结果数据。
	Raw json.RawMessage `json:"-"`
}

// Payload 返回确认携带的结果数据。
func (a Ack) Payload() json.RawMessage {
	if len(a.Result) > 0 && string(a.Result) != "null" {
		return a.Result
	}
	return a.Raw
}

// SigningMessage 返回授权执行时需要签名的确定性文本。
func SigningMessage(prompt string) string {
	return "Execute workflow: " + prompt
}

// FilterAgents 按名称做大小写无关的子串匹配，text 为空时返回全部。
func FilterAgents(agents []Agent, text string) []Agent {
	needle := strings.ToLower(strings.TrimSpace(text))
	filtered := make([]Agent, 0, len(agents))
	for _, agent := range agents {
		if needle == "" || strings.Contains(strings.ToLower(agent.Name), needle) {
			filtered = append(filtered, agent)
		}
	}
	return filtered
}
