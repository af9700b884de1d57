package evolution

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/observability/metrics"
	"Evolve-Chain/internal/oracle"
	"Evolve-Chain/internal/policy"
	"Evolve-Chain/pkg/logger"
)

// Record is the evolution state of one asset.
type Record struct {
	AssetID   uint64    `json:"asset_id"`
	Level     Level     `json:"level"`
	Stage     Stage     `json:"stage"`
	LastCheck time.Time `json:"last_check"`
}

// Reason explains why a change notification was emitted.
type Reason string

const (
	ReasonCreated  Reason = "created"
	ReasonEvolved  Reason = "evolved"
	ReasonDevolved Reason = "devolved"
	ReasonOverride Reason = "override"
)

// Change is delivered to the Sink whenever a record's level is written.
type Change struct {
	AssetID uint64    `json:"asset_id"`
	Level   Level     `json:"level"`
	Stage   Stage     `json:"stage"`
	Reason  Reason    `json:"reason"`
	At      time.Time `json:"at"`
}

// Sink receives evolution-changed notifications. Delivery is fire-and-forget
// from the engine's point of view: errors are logged, never returned to the
// caller that triggered the change.
type Sink interface {
	OnEvolutionChanged(ctx context.Context, change Change) error
}

// Registry answers whether an asset exists. The engine never mutates it.
type Registry interface {
	Exists(ctx context.Context, id uint64) (bool, error)
}

// Checkpointer persists the time of every evaluation that read a valid
// signal, including those that left the level unchanged.
type Checkpointer interface {
	SaveLastCheck(ctx context.Context, assetID uint64, at time.Time) error
}

// PolicySource exposes the active policy and oracle handle.
type PolicySource interface {
	Snapshot() policy.Policy
	Oracle() oracle.Oracle
}

type slot struct {
	mu  sync.Mutex
	rec Record
}

// Engine holds every evolution record and evaluates transitions.
type Engine struct {
	records       sync.Map // uint64 -> *slot
	policy        PolicySource
	registry      Registry
	sink          Sink
	checkpoint    Checkpointer
	clock         func() time.Time
	oracleTimeout time.Duration
	log           *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithRegistry makes existence checks consult the asset registry.
func WithRegistry(r Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithSink sets the notification sink.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithCheckpointer persists LastCheck after each valid read.
func WithCheckpointer(c Checkpointer) Option {
	return func(e *Engine) { e.checkpoint = c }
}

// WithClock overrides the clock used by CreateRecord.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithOracleTimeout bounds every oracle read made by the engine.
func WithOracleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.oracleTimeout = d
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine builds an engine reading policy from source.
func NewEngine(source PolicySource, opts ...Option) *Engine {
	e := &Engine{
		policy:        source,
		clock:         time.Now,
		oracleTimeout: oracle.DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.log == nil {
		e.log = logger.Named("evolution")
	}
	return e
}

// CreateRecord inserts the initial record of a freshly minted asset.
func (e *Engine) CreateRecord(ctx context.Context, id uint64) (Record, error) {
	s := &slot{rec: Record{
		AssetID:   id,
		Level:     MinLevel,
		Stage:     mustStage(MinLevel),
		LastCheck: e.clock(),
	}}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, loaded := e.records.LoadOrStore(id, s); loaded {
		return Record{}, xerrors.Wrap(CodeRecordExists, ErrRecordExists, fmt.Sprintf("asset %d", id))
	}
	e.emit(ctx, s.rec, ReasonCreated)
	return s.rec, nil
}

// Restore hydrates records from a previous run. The stage is recomputed from
// the level; records that already exist are left untouched.
func (e *Engine) Restore(records []Record) (int, error) {
	restored := 0
	for _, rec := range records {
		stage, err := MapLevelToStage(rec.Level)
		if err != nil {
			return restored, fmt.Errorf("restore asset %d: %w", rec.AssetID, err)
		}
		rec.Stage = stage
		if _, loaded := e.records.LoadOrStore(rec.AssetID, &slot{rec: rec}); !loaded {
			restored++
		}
	}
	return restored, nil
}

// Evaluate samples the oracle and applies at most one level step. It reports
// whether the level changed. The cooldown guard runs before the oracle is
// consulted; failed reads leave the record untouched so the caller may retry
// immediately.
func (e *Engine) Evaluate(ctx context.Context, id uint64, now time.Time) (bool, error) {
	s, err := e.lookup(ctx, id)
	if err != nil {
		metrics.ObserveEvaluation("not_found")
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pol := e.policy.Snapshot()
	if remaining := cooldownRemaining(s.rec.LastCheck, pol.Cooldown, now); remaining > 0 {
		metrics.ObserveEvaluation("cooldown")
		return false, xerrors.Wrap(CodeCooldownActive, ErrCooldownActive,
			fmt.Sprintf("asset %d can be evaluated in %s", id, remaining.Round(time.Second)),
			xerrors.WithMetadata("retry_after_seconds", strconv.FormatInt(ceilSeconds(remaining), 10)))
	}

	signal, err := e.readSignal(ctx)
	if err != nil {
		if stdErrors.Is(err, oracle.ErrUnusableSignal) {
			metrics.ObserveEvaluation("invalid_signal")
			return false, xerrors.Wrap(CodeInvalidSignal, err, fmt.Sprintf("asset %d", id))
		}
		metrics.ObserveEvaluation("oracle_unavailable")
		e.log.Warn("oracle read failed", slog.Uint64("asset_id", id), slog.Any("error", err))
		return false, xerrors.Wrap(CodeOracleUnavailable, err, fmt.Sprintf("asset %d", id))
	}
	if !signal.Value.IsPositive() {
		metrics.ObserveEvaluation("invalid_signal")
		return false, xerrors.New(CodeInvalidSignal, fmt.Sprintf("asset %d: signal %s is not positive", id, signal.Value))
	}

	if now.After(s.rec.LastCheck) {
		s.rec.LastCheck = now
	}
	e.saveCheckpoint(ctx, s.rec)

	next := decide(s.rec.Level, signal.Value, pol)
	if next == s.rec.Level {
		metrics.ObserveEvaluation("unchanged")
		e.log.Debug("evaluation left level unchanged",
			slog.Uint64("asset_id", id),
			slog.Int("level", int(next)),
			slog.String("signal", signal.Value.String()),
		)
		return false, nil
	}

	reason := ReasonEvolved
	if next < s.rec.Level {
		reason = ReasonDevolved
	}
	s.rec.Level = next
	s.rec.Stage = mustStage(next)

	metrics.ObserveEvaluation(string(reason))
	if reason == ReasonEvolved {
		metrics.ObserveTransition("up")
	} else {
		metrics.ObserveTransition("down")
	}
	logger.Audit().Info("asset_"+string(reason),
		slog.Uint64("asset_id", id),
		slog.Int("level", int(next)),
		slog.String("stage", string(s.rec.Stage)),
		slog.String("signal", signal.Value.String()),
	)
	e.emit(ctx, s.rec, reason)
	return true, nil
}

// AdminOverride force-sets level and stage, bypassing cooldown and
// thresholds. Authorisation is the caller's responsibility. An empty stage
// is derived from level; a non-empty stage must match it.
func (e *Engine) AdminOverride(ctx context.Context, id uint64, level Level, stage Stage, now time.Time) (Record, error) {
	expected, err := MapLevelToStage(level)
	if err != nil {
		return Record{}, err
	}
	if stage != "" && stage != expected {
		return Record{}, xerrors.Wrap(CodeStageMismatch, ErrStageMismatch,
			fmt.Sprintf("stage %q does not match level %d (%q)", stage, level, expected))
	}

	s, err := e.lookup(ctx, id)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.rec.Level
	s.rec.Level = level
	s.rec.Stage = expected
	if now.After(s.rec.LastCheck) {
		s.rec.LastCheck = now
	}

	logger.Audit().Info("asset_override",
		slog.Uint64("asset_id", id),
		slog.Int("previous_level", int(previous)),
		slog.Int("level", int(level)),
		slog.String("stage", string(expected)),
	)
	e.emit(ctx, s.rec, ReasonOverride)
	return s.rec, nil
}

// Get returns a copy of the record of id.
func (e *Engine) Get(ctx context.Context, id uint64) (Record, error) {
	s, err := e.lookup(ctx, id)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, nil
}

func (e *Engine) lookup(ctx context.Context, id uint64) (*slot, error) {
	if e.registry != nil {
		ok, err := e.registry.Exists(ctx, id)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("check asset %d", id))
		}
		if !ok {
			return nil, xerrors.Wrap(CodeNotFound, ErrNotFound, fmt.Sprintf("asset %d is not registered", id))
		}
	}
	v, ok := e.records.Load(id)
	if !ok {
		return nil, xerrors.Wrap(CodeNotFound, ErrNotFound, fmt.Sprintf("asset %d", id))
	}
	return v.(*slot), nil
}

func (e *Engine) readSignal(ctx context.Context) (oracle.Signal, error) {
	source := e.policy.Oracle()
	if source == nil {
		return oracle.Signal{}, xerrors.New(oracle.CodeUnavailable, "no active oracle")
	}
	return oracle.WithTimeout(source, e.oracleTimeout).LatestSignal(ctx)
}

func (e *Engine) emit(ctx context.Context, rec Record, reason Reason) {
	if e.sink == nil {
		return
	}
	change := Change{AssetID: rec.AssetID, Level: rec.Level, Stage: rec.Stage, Reason: reason, At: rec.LastCheck}
	if err := e.sink.OnEvolutionChanged(ctx, change); err != nil {
		e.log.Error("deliver evolution change failed",
			slog.Uint64("asset_id", rec.AssetID),
			slog.String("reason", string(reason)),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) saveCheckpoint(ctx context.Context, rec Record) {
	if e.checkpoint == nil {
		return
	}
	if err := e.checkpoint.SaveLastCheck(ctx, rec.AssetID, rec.LastCheck); err != nil {
		e.log.Error("persist last check failed",
			slog.Uint64("asset_id", rec.AssetID),
			slog.Any("error", err),
		)
	}
}

// decide applies the threshold rule. Both ends reflect: no step is attempted
// past MinLevel or MaxLevel.
func decide(level Level, signal decimal.Decimal, pol policy.Policy) Level {
	switch {
	case signal.GreaterThanOrEqual(pol.HighThreshold) && level < MaxLevel:
		return level + 1
	case signal.LessThanOrEqual(pol.LowThreshold) && level > MinLevel:
		return level - 1
	default:
		return level
	}
}

func cooldownRemaining(lastCheck time.Time, cooldown time.Duration, now time.Time) time.Duration {
	remaining := lastCheck.Add(cooldown).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
