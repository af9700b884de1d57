package keeper

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/observability/alerting"
	"Evolve-Chain/internal/observability/metrics"
	"Evolve-Chain/internal/registry"
	"Evolve-Chain/pkg/logger"
)

// Evaluator 是巡检所需的引擎能力。
type Evaluator interface {
	CanEvaluate(ctx context.Context, id uint64, now time.Time) bool
	Evaluate(ctx context.Context, id uint64, now time.Time) (bool, error)
}

// AssetSource 列出需要巡检的资产 ID。
type AssetSource func(ctx context.Context) ([]uint64, error)

// Report 汇总一次巡检的结果。
type Report struct {
	Scanned int `json:"scanned"`
	Due     int `json:"due"`
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// Duration 仅供日志使用，JSON 输出见 DurationMS。
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Keeper 定期对到期资产执行评估。
type Keeper struct {
	engine      Evaluator
	assets      AssetSource
	interval    time.Duration
	concurrency int
	limiter     *rate.Limiter
	clock       func() time.Time
	alerter     alerting.Dispatcher
	log         *slog.Logger
}

// Option 定义可选配置。
type Option func(*Keeper)

// WithInterval 设置巡检间隔。
func WithInterval(d time.Duration) Option {
	return func(k *Keeper) {
		if d > 0 {
			k.interval = d
		}
	}
}

// WithConcurrency 设置单次巡检的最大并发评估数。
func WithConcurrency(n int) Option {
	return func(k *Keeper) {
		if n > 0 {
			k.concurrency = n
		}
	}
}

// WithRateLimit 限制每秒评估次数。
func WithRateLimit(perSecond float64, burst int) Option {
	return func(k *Keeper) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			k.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithClock 替换时间源。
func WithClock(clock func() time.Time) Option {
	return func(k *Keeper) {
		if clock != nil {
			k.clock = clock
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(k *Keeper) { k.alerter = d }
}

// New 构造 Keeper。
func New(engine Evaluator, assets AssetSource, opts ...Option) *Keeper {
	k := &Keeper{
		engine:      engine,
		assets:      assets,
		interval:    time.Minute,
		concurrency: 4,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		clock:       time.Now,
		log:         logger.Named("keeper"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Run 按间隔执行巡检，直到 ctx 结束。
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.log.Info("巡检已启动", slog.Duration("interval", k.interval), slog.Int("concurrency", k.concurrency))
	for {
		if _, err := k.Sweep(ctx); err != nil && ctx.Err() == nil {
			k.log.Error("巡检失败", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep 执行一轮巡检。
func (k *Keeper) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	ids, err := k.assets(ctx)
	if err != nil {
		return Report{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "列出资产失败")
	}

	now := k.clock()
	var due []uint64
	for _, id := range ids {
		if k.engine.CanEvaluate(ctx, id, now) {
			due = append(due, id)
		}
	}
	metrics.ObserveSweep(len(due))

	var changed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.concurrency)
	for _, id := range due {
		id := id
		g.Go(func() error {
			if err := k.limiter.Wait(gctx); err != nil {
				return err
			}
			ok, err := k.engine.Evaluate(gctx, id, k.clock())
			switch {
			case err == nil && ok:
				changed.Add(1)
			case err == nil:
			case stdErrors.Is(err, evolution.ErrCooldownActive):
				skipped.Add(1)
			default:
				failed.Add(1)
				k.handleFailure(gctx, id, err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	report := Report{
		Scanned:  len(ids),
		Due:      len(due),
		Changed:  int(changed.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}
	report.DurationMS = report.Duration.Milliseconds()
	k.log.Info("巡检完成",
		slog.Int("scanned", report.Scanned),
		slog.Int("due", report.Due),
		slog.Int("changed", report.Changed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)
	return report, waitErr
}

func (k *Keeper) handleFailure(ctx context.Context, id uint64, err error) {
	k.log.Warn("评估资产失败",
		slog.Uint64("asset_id", id),
		slog.String("error_code", string(xerrors.CodeOf(err))),
		slog.Any("error", err),
	)
	if k.alerter == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if alertErr := k.alerter.Notify(ctx, alerting.FromError("keeper", id, err)); alertErr != nil {
		k.log.Error("发送告警失败", slog.Any("error", alertErr), slog.Uint64("asset_id", id))
	}
}

// EngineSnapshot 以引擎内存中的记录作为资产来源。
func EngineSnapshot(engine interface{ Snapshot() []evolution.Record }) AssetSource {
	return func(context.Context) ([]uint64, error) {
		records := engine.Snapshot()
		ids := make([]uint64, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.AssetID)
		}
		return ids, nil
	}
}

type assetLister interface {
	List(ctx context.Context, limit, offset int) ([]registry.Asset, error)
}

// RegistryAssets 分页读取登记表中的全部资产。
func RegistryAssets(reg assetLister, pageSize int) AssetSource {
	if pageSize <= 0 {
		pageSize = 500
	}
	return func(ctx context.Context) ([]uint64, error) {
		var ids []uint64
		for offset := 0; ; offset += pageSize {
			page, err := reg.List(ctx, pageSize, offset)
			if err != nil {
				return nil, err
			}
			for _, asset := range page {
				ids = append(ids, asset.ID)
			}
			if len(page) < pageSize {
				return ids, nil
			}
		}
	}
}
