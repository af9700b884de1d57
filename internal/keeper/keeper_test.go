package keeper

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/observability/alerting"
	"Evolve-Chain/internal/oracle"
	"Evolve-Chain/internal/policy"
	"Evolve-Chain/internal/registry"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const owner = "0x00000000000000000000000000000000000a11ce"

func newEngine(t *testing.T, static *oracle.Static) *evolution.Engine {
	t.Helper()
	store, err := policy.NewStore(policy.Policy{
		LowThreshold:  decimal.NewFromInt(1000),
		HighThreshold: decimal.NewFromInt(50000),
		Cooldown:      time.Hour,
		MinCooldown:   time.Minute,
		MaxCooldown:   24 * time.Hour,
	}, "static", static)
	if err != nil {
		t.Fatalf("policy store: %v", err)
	}
	return evolution.NewEngine(store, evolution.WithClock(func() time.Time { return t0 }))
}

func TestSweepEvaluatesDueAssets(t *testing.T) {
	static := oracle.NewStatic(decimal.NewFromInt(60000))
	engine := newEngine(t, static)
	for id := uint64(1); id <= 5; id++ {
		if _, err := engine.CreateRecord(context.Background(), id); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// Asset 5 was just overridden and is still cooling down.
	if _, err := engine.AdminOverride(context.Background(), 5, 3, "", t0.Add(30*time.Minute)); err != nil {
		t.Fatalf("override: %v", err)
	}

	now := t0.Add(time.Hour)
	k := New(engine, EngineSnapshot(engine),
		WithClock(func() time.Time { return now }),
		WithConcurrency(2),
		WithRateLimit(1000, 5),
	)
	report, err := k.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Scanned != 5 || report.Due != 4 || report.Changed != 4 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if static.Calls() != 4 {
		t.Fatalf("expected 4 oracle reads, got %d", static.Calls())
	}

	report, err = k.Sweep(context.Background())
	if err != nil || report.Due != 0 {
		t.Fatalf("second sweep should find nothing due: %+v %v", report, err)
	}
}

type scriptedEvaluator struct {
	mu       sync.Mutex
	inFlight atomic.Int32
	peak     atomic.Int32
	results  map[uint64]error
}

func (s *scriptedEvaluator) CanEvaluate(context.Context, uint64, time.Time) bool { return true }

func (s *scriptedEvaluator) Evaluate(_ context.Context, id uint64, _ time.Time) (bool, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.results[id]
	return err == nil, err
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func TestSweepClassifiesFailuresAndBoundsConcurrency(t *testing.T) {
	eval := &scriptedEvaluator{results: map[uint64]error{
		2: evolution.ErrCooldownActive,
		3: evolution.ErrOracleUnavailable,
		4: evolution.ErrInvalidSignal,
	}}
	ids := []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	alerts := &recordingDispatcher{}
	k := New(eval, func(context.Context) ([]uint64, error) { return ids, nil },
		WithConcurrency(3),
		WithAlertDispatcher(alerts),
	)

	report, err := k.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Changed != 5 || report.Skipped != 1 || report.Failed != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if eval.peak.Load() > 3 {
		t.Fatalf("concurrency limit exceeded: %d", eval.peak.Load())
	}
	if len(alerts.events) != 1 || alerts.events[0].AssetID != 3 || alerts.events[0].Code != evolution.CodeOracleUnavailable {
		t.Fatalf("only the oracle outage should alert, got %+v", alerts.events)
	}
}

func TestSweepSourceFailure(t *testing.T) {
	k := New(&scriptedEvaluator{}, func(context.Context) ([]uint64, error) {
		return nil, stdErrors.New("db down")
	})
	if _, err := k.Sweep(context.Background()); err == nil {
		t.Fatalf("expected source error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	var sweeps atomic.Int32
	k := New(&scriptedEvaluator{}, func(context.Context) ([]uint64, error) {
		sweeps.Add(1)
		return nil, nil
	}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	if err := k.Run(ctx); !stdErrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if sweeps.Load() < 2 {
		t.Fatalf("expected repeated sweeps, got %d", sweeps.Load())
	}
}

func TestRegistryAssetsPaginates(t *testing.T) {
	reg := registry.NewMemory()
	for i := 0; i < 7; i++ {
		if _, err := reg.Mint(context.Background(), owner); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	ids, err := RegistryAssets(reg, 3)(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 7 || ids[0] != 1 || ids[6] != 7 {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestReportJSONCarriesMilliseconds(t *testing.T) {
	raw, err := json.Marshal(Report{Scanned: 3, Duration: 1500 * time.Millisecond, DurationMS: 1500})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["duration_ms"] != float64(1500) {
		t.Fatalf("expected duration_ms=1500, got %s", raw)
	}
	if _, ok := fields["Duration"]; ok {
		t.Fatalf("raw nanosecond duration should not be exported: %s", raw)
	}
}
