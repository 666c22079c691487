package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/history"
	"SkyAgents-Hub/internal/orchestrator"
	"SkyAgents-Hub/internal/status"
	"SkyAgents-Hub/internal/wallet"
	"SkyAgents-Hub/internal/workflow"
	"SkyAgents-Hub/pkg/logger"
)

// extensionSchemes 是始终放行的浏览器扩展来源。
var extensionSchemes = []string{"chrome-extension://", "moz-extension://", "safari-web-extension://"}

// Catalog 提供智能体列表。
type Catalog interface {
	ListAgents(ctx context.Context) ([]workflow.Agent, error)
}

// Session 是钱包会话的控制面。
type Session interface {
	IsReady() bool
	LoggedIn() bool
	Address() string
	Login(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
	Sign(ctx context.Context, message string) (string, error)
}

// Executor 负责提交执行并查询状态。
type Executor interface {
	Execute(ctx context.Context, req orchestrator.Request) (*orchestrator.Attempt, error)
	Status(ctx context.Context, agent string) (status.Entry, error)
	Statuses(ctx context.Context) ([]status.Entry, error)
	History(ctx context.Context, query history.Query) ([]history.Record, error)
}

// Server 负责暴露 REST 接口，供浏览器扩展或脚本驱动智能体执行。
type Server struct {
	addr     string
	engine   *gin.Engine
	catalog  Catalog
	session  Session
	executor Executor
	metrics  http.Handler
	origins  []string
	logger   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithMetricsHandler 在 /metrics 上挂载指标处理器。
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAllowOrigins 追加允许跨域访问的来源。
func WithAllowOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, origin := range origins {
			if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
				s.origins = append(s.origins, origin)
			}
		}
	}
}

// WithLogger 指定请求日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例并注册路由。
func NewServer(addr string, catalog Catalog, session Session, executor Executor, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:     addr,
		engine:   gin.New(),
		catalog:  catalog,
		session:  session,
		executor: executor,
		logger:   logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.engine.UseRawPath = true
	s.routes()
	return s
}

// Handler 返回路由后的 http.Handler。
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.Use(cors.New(cors.Config{
		AllowOriginFunc:  s.allowOrigin,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		MaxAge:           12 * time.Hour,
	}))

	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/agents", s.handleListAgents)

		v1.GET("/session", s.handleSession)
		v1.POST("/session/login", s.handleLogin)
		v1.POST("/session/logout", s.handleLogout)

		v1.POST("/executions", s.handleExecute)
		v1.GET("/executions", s.handleListStatuses)
		v1.GET("/executions/:agent", s.handleStatus)

		v1.GET("/history", s.handleHistory)
	}
}

func (s *Server) allowOrigin(origin string) bool {
	for _, scheme := range extensionSchemes {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("处理请求",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.catalog.ListAgents(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": workflow.FilterAgents(agents, c.Query("search"))})
}

type sessionResponse struct {
	Ready    bool   `json:"ready"`
	LoggedIn bool   `json:"logged_in"`
	Address  string `json:"address,omitempty"`
	Verified *bool  `json:"verified,omitempty"`
}

func (s *Server) sessionState() sessionResponse {
	return sessionResponse{
		Ready:    s.session.IsReady(),
		LoggedIn: s.session.LoggedIn(),
		Address:  s.session.Address(),
	}
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionState())
}

// handleLogin 连接钱包；verify=true 时额外签名一段挑战文本并校验签名者。
func (s *Server) handleLogin(c *gin.Context) {
	ctx := c.Request.Context()
	address, err := s.session.Login(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := s.sessionState()
	if verify, _ := strconv.ParseBool(c.Query("verify")); verify {
		challenge := "SkyAgents login check: " + time.Now().UTC().Format(time.RFC3339)
		signature, err := s.session.Sign(ctx, challenge)
		if err != nil {
			s.writeError(c, err)
			return
		}
		ok, err := wallet.VerifySignature(challenge, signature, address)
		if err != nil {
			s.logger.Warn("登录签名校验失败", slog.String("address", address), slog.Any("error", err))
		}
		resp.Verified = &ok
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.session.Logout(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessionState())
}

// executeRequest 可以直接携带智能体，也可以只给名称由目录解析。
type executeRequest struct {
	Agent     *workflow.Agent `json:"agent"`
	AgentName string          `json:"agent_name"`
	Prompt    string          `json:"prompt"`
	AssetID   string          `json:"asset_id"`
}

type executeResponse struct {
	AttemptID string                    `json:"attempt_id"`
	Agent     workflow.Agent            `json:"agent"`
	Result    *workflow.ExecutionResult `json:"result,omitempty"`
	Status    *status.Entry             `json:"status,omitempty"`
}

func (s *Server) handleExecute(c *gin.Context) {
	var body executeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	ctx := c.Request.Context()
	agent, err := s.resolveAgent(ctx, body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	req := orchestrator.Request{Agent: agent, Prompt: body.Prompt}
	if asset := strings.TrimSpace(body.AssetID); asset != "" {
		req.Account = &workflow.AccountRef{AssetID: asset}
	}
	attempt, err := s.executor.Execute(ctx, req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := executeResponse{AttemptID: attempt.ID(), Agent: agent}
	if result, done := attempt.Result(); done {
		resp.Result = &result
	}
	if entry, err := s.executor.Status(ctx, agent.Name); err == nil {
		resp.Status = &entry
	}
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) resolveAgent(ctx context.Context, body executeRequest) (workflow.Agent, error) {
	if body.Agent != nil {
		return *body.Agent, nil
	}
	name := strings.TrimSpace(body.AgentName)
	if name == "" {
		return workflow.Agent{}, xerrors.New(xerrors.CodePreconditionFailed, "an agent must be selected")
	}
	agents, err := s.catalog.ListAgents(ctx)
	if err != nil {
		return workflow.Agent{}, err
	}
	for _, agent := range agents {
		if agent.Name == name {
			return agent, nil
		}
	}
	return workflow.Agent{}, xerrors.New(xerrors.CodeNotFound, "agent not found in catalog: "+name)
}

func (s *Server) handleListStatuses(c *gin.Context) {
	entries, err := s.executor.Statuses(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": entries})
}

func (s *Server) handleStatus(c *gin.Context) {
	entry, err := s.executor.Status(c.Request.Context(), c.Param("agent"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleHistory(c *gin.Context) {
	query := history.Query{Agent: strings.TrimSpace(c.Query("agent"))}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(c, xerrors.New(xerrors.CodeInvalidArgument, "limit must be a positive integer"))
			return
		}
		query.Limit = limit
	}
	records, err := s.executor.History(c.Request.Context(), query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type errorResponse struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := xerrors.CodeOf(err)
	httpStatus := statusFor(code)
	if httpStatus >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(httpStatus, errorResponse{Code: code, Message: xerrors.Describe(err)})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodePreconditionFailed:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeAttemptInProgress:
		return http.StatusConflict
	case xerrors.CodeNotInitialized, xerrors.CodeNoAccount:
		return http.StatusServiceUnavailable
	case xerrors.CodeCatalogUnavailable, xerrors.CodeWorkflowNotFound, xerrors.CodeChannelDisconnected:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
