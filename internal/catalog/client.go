package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/observability/metrics"
	"SkyAgents-Hub/internal/workflow"
	"SkyAgents-Hub/pkg/logger"
)

// DefaultHTTPTimeout 是未提供自定义 http.Client 时使用的超时时间。
const DefaultHTTPTimeout = 30 * time.Second

const maxBodyBytes = 8 << 20

const (
	endpointListAgents  = "list_agents"
	endpointGetWorkflow = "get_workflow"
)

// Client 封装对智能体目录 REST 接口的访问。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option 定义可选配置。
type Option func(*Client)

// WithHTTPClient 替换默认的 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMetrics 为每次请求记录延迟与状态码。
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient 创建目录客户端，rawURL 是目录服务的根地址。
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "catalog base url is empty")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid catalog base url")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("catalog base url %q must be absolute", rawURL))
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     logger.Named("catalog"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// ListAgents 拉取可用智能体列表。
//
// 失败时返回空切片与错误，调用方可以直接展示“无可用智能体”。
func (c *Client) ListAgents(ctx context.Context) ([]workflow.Agent, error) {
	body, err := c.get(ctx, endpointListAgents, "/api/agents")
	if err != nil {
		c.logger.Error("获取智能体列表失败", slog.Any("error", err))
		return []workflow.Agent{}, err
	}
	agents, err := parseAgents(body)
	if err != nil {
		c.logger.Error("解析智能体列表失败", slog.Any("error", err))
		return []workflow.Agent{}, err
	}
	c.logger.Debug("已获取智能体列表", slog.Int("count", len(agents)))
	return agents, nil
}

// GetWorkflow 拉取指定智能体的工作流定义，保持源顺序并按位置从 1 编号。
func (c *Client) GetWorkflow(ctx context.Context, identifier string) ([]workflow.Step, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent identifier is empty")
	}
	body, err := c.get(ctx, endpointGetWorkflow, "/api/agents/"+url.PathEscape(identifier))
	if err != nil {
		return nil, err
	}
	steps, err := parseWorkflow(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("已获取工作流", slog.String("agent_id", identifier), slog.Int("steps", len(steps)))
	return steps, nil
}

func (c *Client) get(ctx context.Context, endpoint, rel string) ([]byte, error) {
	// rel 已经过转义，JoinPath 会同时维护 Path 与 RawPath。
	u := c.baseURL.JoinPath(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCatalogUnavailable, err, "")
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveCatalogRequest(endpoint, 0, time.Since(started))
		return nil, xerrors.Wrap(xerrors.CodeCatalogUnavailable, err, "")
	}
	defer resp.Body.Close()
	c.metrics.ObserveCatalogRequest(endpoint, resp.StatusCode, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, xerrors.Wrap(xerrors.CodeCatalogUnavailable,
			fmt.Errorf("HTTP error! status: %d", resp.StatusCode), "")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCatalogUnavailable, err, "read catalog response")
	}
	return body, nil
}

func decodeDocument(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCatalogUnavailable, err, "decode catalog response")
	}
	return doc, nil
}
