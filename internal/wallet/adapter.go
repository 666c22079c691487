package wallet

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/pkg/logger"
)

var errSessionClosed = errors.New("wallet logged out while connecting")

// Provider 是一次已授权的钱包会话。
type Provider interface {
	// Accounts 对应 eth_accounts。
	Accounts(ctx context.Context) ([]string, error)
	// PersonalSign 对应 personal_sign，返回 0x 开头的 65 字节签名。
	PersonalSign(ctx context.Context, message, address string) (string, error)
	Close() error
}

// Connector 负责初始化钱包 SDK 并建立会话。
type Connector interface {
	Init(ctx context.Context) error
	Connect(ctx context.Context) (Provider, error)
}

// Adapter 在 Connector 之上维护初始化、连接与登录状态。
type Adapter struct {
	connector Connector
	logger    *slog.Logger
	audit     *slog.Logger
	group     singleflight.Group

	mu       sync.RWMutex
	ready    bool
	provider Provider
	loggedIn bool
	address  string
	// session 在每次 Logout 时递增，用于丢弃登出前发起的连接。
	session uint64
}

// Option 定义可选配置。
type Option func(*Adapter)

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.audit = l
		}
	}
}

// NewAdapter 创建适配器，需要调用 Initialize 后才能使用。
func NewAdapter(connector Connector, opts ...Option) *Adapter {
	a := &Adapter{
		connector: connector,
		logger:    logger.Named("wallet"),
		audit:     logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Initialize 初始化底层钱包 SDK。失败时记录日志并保持未就绪状态。
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.connector == nil {
		err := xerrors.New(xerrors.CodeNotInitialized, "no wallet connector configured")
		a.logger.Error("钱包初始化失败", slog.Any("error", err))
		return err
	}
	if err := a.connector.Init(ctx); err != nil {
		a.logger.Error("钱包初始化失败", slog.Any("error", err))
		return xerrors.Wrap(xerrors.CodeNotInitialized, err, "")
	}
	a.mu.Lock()
	a.ready = true
	a.mu.Unlock()
	a.logger.Info("钱包已初始化")
	return nil
}

// IsReady 报告 Initialize 是否已成功。
func (a *Adapter) IsReady() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

// LoggedIn 报告当前登录状态。
func (a *Adapter) LoggedIn() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loggedIn
}

// Address 返回最近一次登录得到的账户地址。
func (a *Adapter) Address() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.address
}

// Login 建立钱包会话并标记为已登录，返回首个账户地址（可能为空）。
func (a *Adapter) Login(ctx context.Context) (string, error) {
	provider, err := a.connect(ctx)
	if err != nil {
		return "", err
	}
	accounts, err := provider.Accounts(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "query wallet accounts")
	}
	address := ""
	if len(accounts) > 0 {
		address = accounts[0]
	} else {
		a.logger.Warn("钱包会话中没有可用账户")
	}

	a.mu.Lock()
	a.loggedIn = true
	a.address = address
	a.mu.Unlock()

	a.audit.Info("wallet login", slog.String("address", address))
	return address, nil
}

// Logout 关闭钱包会话并清除登录状态。
func (a *Adapter) Logout(ctx context.Context) error {
	if !a.IsReady() {
		return xerrors.New(xerrors.CodeNotInitialized, "")
	}
	a.mu.Lock()
	provider := a.provider
	a.provider = nil
	a.session++
	a.loggedIn = false
	a.address = ""
	a.mu.Unlock()

	if provider != nil {
		if err := provider.Close(); err != nil {
			a.logger.Warn("关闭钱包会话失败", slog.Any("error", err))
		}
	}
	a.audit.Info("wallet logout")
	return nil
}

// Sign 使用首个账户对 message 执行 personal_sign。
func (a *Adapter) Sign(ctx context.Context, message string) (string, error) {
	provider, err := a.connect(ctx)
	if err != nil {
		return "", err
	}
	accounts, err := provider.Accounts(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "query wallet accounts")
	}
	if len(accounts) == 0 || strings.TrimSpace(accounts[0]) == "" {
		return "", xerrors.New(xerrors.CodeNoAccount, "")
	}
	signature, err := provider.PersonalSign(ctx, message, accounts[0])
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "personal_sign failed")
	}
	a.audit.Info("message signed", slog.String("address", accounts[0]), slog.Int("message_bytes", len(message)))
	return signature, nil
}

// connect 复用已有会话；并发调用共享同一次连接，只会触发一次授权。
// 共享的连接不随首个调用方取消；连接期间发生 Logout 时结果被丢弃。
func (a *Adapter) connect(ctx context.Context) (Provider, error) {
	a.mu.RLock()
	ready, provider := a.ready, a.provider
	a.mu.RUnlock()
	if !ready {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "")
	}
	if provider != nil {
		return provider, nil
	}

	shared := context.WithoutCancel(ctx)
	value, err, _ := a.group.Do("connect", func() (any, error) {
		a.mu.RLock()
		existing, session := a.provider, a.session
		a.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		p, err := a.connector.Connect(shared)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		if a.session != session {
			a.mu.Unlock()
			if cerr := p.Close(); cerr != nil {
				a.logger.Warn("关闭钱包会话失败", slog.Any("error", cerr))
			}
			return nil, errSessionClosed
		}
		a.provider = p
		a.mu.Unlock()
		a.logger.Info("钱包会话已建立")
		return p, nil
	})
	if err != nil {
		a.logger.Error("连接钱包失败", slog.Any("error", err))
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "wallet connect failed")
	}
	return value.(Provider), nil
}
