// Package app assembles the long-lived service objects from configuration:
// the catalog client, the wallet adapter, the realtime channel, the status
// map, the attempt journal, the event publishers and the orchestrator that
// drives them. Each object is built once and shared by the API server and
// the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"SkyAgents-Hub/internal/api"
	"SkyAgents-Hub/internal/catalog"
	"SkyAgents-Hub/internal/channel"
	"SkyAgents-Hub/internal/config"
	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/events"
	"SkyAgents-Hub/internal/history"
	"SkyAgents-Hub/internal/observability/metrics"
	"SkyAgents-Hub/internal/orchestrator"
	"SkyAgents-Hub/internal/status"
	"SkyAgents-Hub/internal/wallet"
	"SkyAgents-Hub/internal/workflow"
	"SkyAgents-Hub/pkg/logger"
)

// App 持有进程内共享的全部服务对象。
type App struct {
	Config       *config.Config
	Metrics      *metrics.Metrics
	Catalog      *catalog.Client
	Wallet       *wallet.Adapter
	Channel      *channel.Client
	Execution    *channel.Execution
	Status       status.Store
	History      history.Store
	Publisher    events.Publisher
	Orchestrator *orchestrator.Orchestrator

	logger    *slog.Logger
	connected chan struct{}
	once      sync.Once
	closers   []func() error
}

// New 根据配置构造全部组件。钱包初始化失败只记录日志，
// 之后的执行会以前置条件失败被拒绝。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &App{
		Config:    cfg,
		Metrics:   metrics.New(nil),
		logger:    logger.Named("app"),
		connected: make(chan struct{}),
	}

	var err error
	a.Catalog, err = catalog.NewClient(cfg.Catalog.BaseURL,
		catalog.WithHTTPClient(&http.Client{Timeout: cfg.Catalog.Timeout.Duration}),
		catalog.WithMetrics(a.Metrics),
	)
	if err != nil {
		return nil, err
	}

	connector, err := wallet.NewConnector(cfg.Wallet)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "wallet provider")
	}
	a.Wallet = wallet.NewAdapter(connector)
	if err := a.Wallet.Initialize(ctx); err != nil {
		a.logger.Warn("钱包初始化失败，执行将被拒绝", slog.Any("error", err))
	}
	a.closers = append(a.closers, func() error {
		if !a.Wallet.IsReady() {
			return nil
		}
		return a.Wallet.Logout(context.Background())
	})

	a.Channel, err = channel.NewClient(channel.Options{
		URL:            cfg.Channel.URL,
		Path:           cfg.Channel.Path,
		ConnectTimeout: cfg.Channel.ConnectTimeout.Duration,
		ReconnectMin:   cfg.Channel.ReconnectMin.Duration,
		ReconnectMax:   cfg.Channel.ReconnectMax.Duration,
		Metrics:        a.Metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Channel.OnLifecycle(func(connected bool) {
		if connected {
			a.once.Do(func() { close(a.connected) })
		}
	})
	a.Execution = channel.NewExecution(a.Channel)
	a.closers = append(a.closers, a.Channel.Close)

	if a.Status, err = newStatusStore(ctx, cfg.Status); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.Status.Close)

	if a.History, err = newHistoryStore(ctx, cfg.History); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.History.Close)

	if a.Publisher, err = newPublisher(cfg.Events); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.Publisher.Close)

	a.Orchestrator = orchestrator.New(a.Catalog, a.Wallet, a.Execution, a.Status,
		orchestrator.WithHistory(a.History),
		orchestrator.WithPublisher(a.Publisher),
		orchestrator.WithMetrics(a.Metrics),
		orchestrator.WithWriteTimeout(cfg.Status.WriteTimeout.Duration),
		orchestrator.WithDefaultAccount(workflow.AccountRef{
			CollectionID: cfg.Account.CollectionID,
			AssetID:      cfg.Account.AssetID,
		}),
	)
	return a, nil
}

func newStatusStore(ctx context.Context, cfg config.StatusConfig) (status.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return status.NewMemoryStore(), nil
	case "redis":
		return status.NewRedisStore(ctx, status.RedisConfig{
			Address:    cfg.Redis.Address,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Prefix:     cfg.Redis.Prefix,
			StaleAfter: cfg.StaleAfter.Duration,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的状态存储驱动: %s", cfg.Driver))
	}
}

func newHistoryStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return history.NewMemoryStore(cfg.Capacity), nil
	case "mysql":
		return history.NewMySQLStore(ctx, history.MySQLConfig{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime.Duration,
			SkipMigrations:  cfg.MySQL.SkipMigrations,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的执行记录驱动: %s", cfg.Driver))
	}
}

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	publishers := []events.Publisher{events.NewLogPublisher(nil)}
	switch cfg.Driver {
	case "", "none":
	case "rabbitmq":
		rabbit, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		})
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, rabbit)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的事件驱动: %s", cfg.Driver))
	}
	return events.NewFanout(publishers...), nil
}

// Start 开始建立实时通道连接。
func (a *App) Start(ctx context.Context) {
	a.Channel.Start(ctx)
}

// WaitConnected 阻塞直到实时通道首次连接成功。
func (a *App) WaitConnected(ctx context.Context) error {
	select {
	case <-a.connected:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeChannelDisconnected, ctx.Err(), "")
	}
}

// Serve 启动通道、API 服务与可选的独立指标服务，直到 ctx 结束。
func (a *App) Serve(ctx context.Context) error {
	a.Start(ctx)

	server := api.NewServer(a.Config.Server.Address, a.Catalog, a.Wallet, a.Orchestrator,
		api.WithMetricsHandler(a.Metrics.Handler()),
		api.WithAllowOrigins(a.Config.Server.AllowOrigins...),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if addr := a.Config.Metrics.Address; addr != "" {
		g.Go(func() error {
			err := metrics.StartServer(gctx, addr, a.Metrics.Handler())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Close 按构造的逆序释放资源。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
