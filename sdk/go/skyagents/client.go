// Package skyagents is a Go client for the HTTP API exposed by
// `skyagents serve`. The command line uses it for everything that reads or
// changes the state of a running service.
package skyagents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/history"
	"SkyAgents-Hub/internal/status"
	"SkyAgents-Hub/internal/workflow"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 30 * time.Second

const maxResponseBytes = 8 << 20

// Client wraps the HTTP interactions with a running SkyAgents service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Session describes the wallet session of the service.
type Session struct {
	Ready    bool   `json:"ready"`
	LoggedIn bool   `json:"logged_in"`
	Address  string `json:"address,omitempty"`
	// Verified is set when the login asked for a signature self-check.
	Verified *bool `json:"verified,omitempty"`
}

// ExecuteRequest submits a prompt to an agent. Either Agent or AgentName must
// be set; AssetID overrides the configured account asset.
type ExecuteRequest struct {
	Agent     *workflow.Agent `json:"agent,omitempty"`
	AgentName string          `json:"agent_name,omitempty"`
	Prompt    string          `json:"prompt"`
	AssetID   string          `json:"asset_id,omitempty"`
}

// Submission is the service's answer to an accepted execution.
type Submission struct {
	AttemptID string                    `json:"attempt_id"`
	Agent     workflow.Agent            `json:"agent"`
	Result    *workflow.ExecutionResult `json:"result,omitempty"`
	Status    *status.Entry             `json:"status,omitempty"`
}

// APIError represents a non-2xx answer. It unwraps to the coded error the
// service reported so errors.Is and xerrors.HasCode work across the wire.
type APIError struct {
	StatusCode int
	Code       xerrors.Code `json:"code"`
	Message    string       `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("skyagents api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("skyagents api error (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e == nil || e.Code == "" {
		return nil
	}
	return xerrors.New(e.Code, e.Message)
}

// NewClient instantiates a client. A bare host:port is treated as http.
// When httpClient is nil a client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid server address %q", rawURL))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// BaseURL returns the service address.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Agents lists catalog agents, optionally filtered by name.
func (c *Client) Agents(ctx context.Context, search string) ([]workflow.Agent, error) {
	var out struct {
		Agents []workflow.Agent `json:"agents"`
	}
	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}
	if err := c.get(ctx, "/api/v1/agents", query, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// Session reports the wallet session state.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var out Session
	err := c.get(ctx, "/api/v1/session", nil, &out)
	return out, err
}

// Login connects the service's wallet. With verify the service also signs a
// challenge and checks that the signer matches the connected account.
func (c *Client) Login(ctx context.Context, verify bool) (Session, error) {
	query := url.Values{}
	if verify {
		query.Set("verify", "true")
	}
	var out Session
	err := c.post(ctx, "/api/v1/session/login", query, struct{}{}, &out)
	return out, err
}

// Logout disconnects the service's wallet.
func (c *Client) Logout(ctx context.Context) (Session, error) {
	var out Session
	err := c.post(ctx, "/api/v1/session/logout", nil, struct{}{}, &out)
	return out, err
}

// Execute submits a new execution attempt.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (Submission, error) {
	var out Submission
	err := c.post(ctx, "/api/v1/executions", nil, req, &out)
	return out, err
}

// Executions returns the whole status map.
func (c *Client) Executions(ctx context.Context) ([]status.Entry, error) {
	var out struct {
		Executions []status.Entry `json:"executions"`
	}
	if err := c.get(ctx, "/api/v1/executions", nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// Execution returns the status entry of one agent.
func (c *Client) Execution(ctx context.Context, agent string) (status.Entry, error) {
	var out status.Entry
	err := c.get(ctx, "/api/v1/executions/"+url.PathEscape(agent), nil, &out)
	return out, err
}

// History lists finished attempts, newest first.
func (c *Client) History(ctx context.Context, agent string, limit int) ([]history.Record, error) {
	query := url.Values{}
	if agent != "" {
		query.Set("agent", agent)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Records []history.Record `json:"records"`
	}
	if err := c.get(ctx, "/api/v1/history", query, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request (is `skyagents serve` running?): %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
