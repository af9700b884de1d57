package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"Evolve-Chain/internal/api"
	"Evolve-Chain/internal/auth"
	"Evolve-Chain/internal/config"
	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/keeper"
	"Evolve-Chain/internal/notify"
	"Evolve-Chain/internal/observability/alerting"
	"Evolve-Chain/internal/oracle/provider"
	"Evolve-Chain/internal/policy"
	"Evolve-Chain/internal/registry"
	"Evolve-Chain/internal/storage/sqldb"
	"Evolve-Chain/pkg/logger"
)

// memoryEventLimit 是 memory 通知渠道保留的最近事件数。
const memoryEventLimit = 256

// app 持有守护进程运行所需的全部组件。
type app struct {
	cfg      *config.Config
	feeds    *provider.Catalogue
	policy   *policy.Store
	registry registry.Registry
	db       *sql.DB
	journal  *notify.Journal
	notifier *notify.Notifier
	engine   *evolution.Engine
	minter   *registry.Minter
	auth     *auth.Service
	keeper   *keeper.Keeper
	log      *slog.Logger
}

// buildApp 按依赖顺序组装组件，失败时释放已经打开的资源。
func buildApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	a = &app{cfg: cfg, log: logger.Named("evolvd")}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	// 价格源与初始策略。
	feeds, feedName, source, err := provider.NewFromConfig(ctx, cfg.Oracle)
	if err != nil {
		return a, fmt.Errorf("初始化价格源失败: %w", err)
	}
	a.feeds = feeds
	store, err := policy.NewStore(policy.FromConfig(cfg.Policy), feedName, source)
	if err != nil {
		return a, err
	}
	a.policy = store

	if err := a.openRegistry(ctx); err != nil {
		return a, err
	}
	if err := a.openNotifier(ctx); err != nil {
		return a, err
	}

	opts := []evolution.Option{
		evolution.WithRegistry(a.registry),
		evolution.WithSink(a.notifier),
		evolution.WithOracleTimeout(cfg.Oracle.Timeout()),
	}
	if a.journal != nil {
		// 未改变等级的评估也要落盘，否则重启后冷却期会提前结束。
		opts = append(opts, evolution.WithCheckpointer(a.journal))
	}
	a.engine = evolution.NewEngine(store, opts...)
	if err := a.warmStart(ctx); err != nil {
		return a, err
	}
	a.minter = registry.NewMinter(a.registry, a.engine)

	authSvc, err := auth.NewService(auth.Config{
		Mode:     auth.Mode(cfg.Auth.Mode),
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return a, err
	}
	a.auth = authSvc

	a.keeper = keeper.New(a.engine, keeper.RegistryAssets(a.registry, 0),
		keeper.WithInterval(cfg.Keeper.Interval()),
		keeper.WithConcurrency(cfg.Keeper.Concurrency),
		keeper.WithRateLimit(cfg.Keeper.RatePerSecond, cfg.Keeper.Burst),
		keeper.WithAlertDispatcher(alertDispatcher(cfg.Alerting)),
	)

	a.log.Info("组件初始化完成",
		slog.String("oracle", feedName),
		slog.String("registry", cfg.Registry.Driver),
		slog.Any("sinks", a.notifier.Sinks()),
		slog.String("auth", string(authSvc.Mode())),
	)
	return a, nil
}

func (a *app) openRegistry(ctx context.Context) error {
	switch a.cfg.Registry.Driver {
	case "memory":
		a.registry = registry.NewMemory()
		return nil
	case sqldb.DriverSQLite:
		if err := os.MkdirAll(a.cfg.Runtime.DataDir, 0o755); err != nil {
			return err
		}
	}
	db, err := sqldb.Open(ctx, sqldb.Config{
		Driver:          a.cfg.Registry.Driver,
		DSN:             a.cfg.Registry.DSN,
		MaxOpenConns:    a.cfg.Registry.MaxOpenConns,
		MaxIdleConns:    a.cfg.Registry.MaxIdleConns,
		ConnMaxLifetime: time.Duration(a.cfg.Registry.ConnMaxLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("打开登记表数据库失败: %w", err)
	}
	a.db = db
	a.registry = registry.NewSQL(db)
	return nil
}

func (a *app) openNotifier(ctx context.Context) error {
	sinks := make([]notify.Sink, 0, len(a.cfg.Notify.Sinks))
	// 先把已创建的渠道交给 notifier，出错时由 close 统一释放。
	defer func() { a.notifier = notify.NewNotifier(sinks...) }()

	for _, name := range a.cfg.Notify.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, notify.LogSink{})
		case "memory":
			sinks = append(sinks, notify.NewMemorySink(memoryEventLimit))
		case "redis":
			sink, err := notify.NewRedisSink(ctx, notify.RedisConfig{
				Address:  a.cfg.Notify.Redis.Address,
				Password: a.cfg.Notify.Redis.Password,
				DB:       a.cfg.Notify.Redis.DB,
				Channel:  a.cfg.Notify.Redis.Channel,
			})
			if err != nil {
				return fmt.Errorf("连接 Redis 通知渠道失败: %w", err)
			}
			sinks = append(sinks, sink)
		case "rabbitmq":
			sink, err := notify.NewRabbitMQSink(notify.RabbitMQConfig{
				URL:     a.cfg.Notify.RabbitMQ.URL,
				Queue:   a.cfg.Notify.RabbitMQ.Queue,
				Durable: a.cfg.Notify.RabbitMQ.Durable,
			})
			if err != nil {
				return fmt.Errorf("连接 RabbitMQ 通知渠道失败: %w", err)
			}
			sinks = append(sinks, sink)
		case "journal":
			if a.db == nil {
				return errors.New("journal 通知需要 SQL 登记表")
			}
			a.journal = notify.NewJournal(a.db)
			sinks = append(sinks, a.journal)
		default:
			return fmt.Errorf("未知的通知渠道: %s", name)
		}
	}
	return nil
}

// warmStart 从事件日志恢复进化状态，并为没有记录的已登记资产补建初始记录。
func (a *app) warmStart(ctx context.Context) error {
	if a.journal != nil {
		records, err := a.journal.LatestStates(ctx)
		if err != nil {
			return fmt.Errorf("读取事件日志失败: %w", err)
		}
		restored, err := a.engine.Restore(records)
		if err != nil {
			return err
		}
		a.log.Info("已从事件日志恢复进化状态", slog.Int("records", restored))
	}

	ids, err := keeper.RegistryAssets(a.registry, 0)(ctx)
	if err != nil {
		return fmt.Errorf("读取登记表失败: %w", err)
	}
	seeded := 0
	for _, id := range ids {
		if _, err := a.engine.Get(ctx, id); !errors.Is(err, evolution.ErrNotFound) {
			if err != nil {
				return err
			}
			continue
		}
		if _, err := a.engine.CreateRecord(ctx, id); err != nil {
			return err
		}
		seeded++
	}
	if seeded > 0 {
		a.log.Warn("部分资产缺少进化记录，已按初始等级补建", slog.Int("assets", seeded))
	}
	return nil
}

func (a *app) apiServer() *api.Server {
	deps := api.Dependencies{
		Engine:   a.engine,
		Registry: a.registry,
		Minter:   a.minter,
		Policy:   a.policy,
		Feeds:    a.feeds,
		Auth:     a.auth,
		BaseURI:  a.cfg.Registry.BaseURI,
	}
	if a.journal != nil {
		deps.History = a.journal
	}
	return api.NewServer(a.cfg.Server.Address, deps)
}

func (a *app) close() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.Warn("关闭通知渠道失败", slog.Any("error", err))
		}
	}
	if a.feeds != nil {
		a.feeds.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("关闭数据库失败", slog.Any("error", err))
		}
	}
}

// alertDispatcher 根据配置组合告警渠道，未配置任何渠道时返回 nil。
func alertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
