package evolution

import (
	"context"
	"sort"
	"time"
)

// SignalUnknown is reported by Describe when the oracle cannot be read.
const SignalUnknown = "unknown"

// Description is a read-only view of an asset's evolution state.
type Description struct {
	AssetID           uint64    `json:"asset_id"`
	Level             Level     `json:"level"`
	Stage             Stage     `json:"stage"`
	LastCheck         time.Time `json:"last_check"`
	Signal            string    `json:"signal"`
	CooldownRemaining int64     `json:"cooldown_remaining_seconds"`
}

// Describe returns the record of id together with a best-effort signal
// reading. Oracle failures degrade to SignalUnknown instead of failing.
func (e *Engine) Describe(ctx context.Context, id uint64, now time.Time) (Description, error) {
	rec, err := e.Get(ctx, id)
	if err != nil {
		return Description{}, err
	}
	pol := e.policy.Snapshot()

	desc := Description{
		AssetID:           rec.AssetID,
		Level:             rec.Level,
		Stage:             rec.Stage,
		LastCheck:         rec.LastCheck,
		Signal:            SignalUnknown,
		CooldownRemaining: ceilSeconds(cooldownRemaining(rec.LastCheck, pol.Cooldown, now)),
	}
	if signal, err := e.readSignal(ctx); err == nil {
		desc.Signal = signal.Value.String()
	}
	return desc, nil
}

// CanEvaluate reports whether id exists and its cooldown has elapsed. It
// never fails; unknown assets yield false.
func (e *Engine) CanEvaluate(ctx context.Context, id uint64, now time.Time) bool {
	rec, err := e.Get(ctx, id)
	if err != nil {
		return false
	}
	return cooldownRemaining(rec.LastCheck, e.policy.Snapshot().Cooldown, now) == 0
}

// Requirements describes which transitions are reachable from the current
// level and the signal values that would trigger them.
type Requirements struct {
	AssetID    uint64 `json:"asset_id"`
	Level      Level  `json:"level"`
	Stage      Stage  `json:"stage"`
	CanEvolve  bool   `json:"can_evolve"`
	EvolveAt   string `json:"evolve_at,omitempty"`
	NextStage  Stage  `json:"next_stage,omitempty"`
	CanDevolve bool   `json:"can_devolve"`
	DevolveAt  string `json:"devolve_at,omitempty"`
	PrevStage  Stage  `json:"previous_stage,omitempty"`
}

// Requirements reports the up/down triggers for id under the active policy.
// EvolveAt is the minimum signal that evolves; DevolveAt the maximum signal
// that devolves.
func (e *Engine) Requirements(ctx context.Context, id uint64) (Requirements, error) {
	rec, err := e.Get(ctx, id)
	if err != nil {
		return Requirements{}, err
	}
	pol := e.policy.Snapshot()

	req := Requirements{AssetID: rec.AssetID, Level: rec.Level, Stage: rec.Stage}
	if rec.Level < MaxLevel {
		req.CanEvolve = true
		req.EvolveAt = pol.HighThreshold.String()
		req.NextStage = mustStage(rec.Level + 1)
	}
	if rec.Level > MinLevel {
		req.CanDevolve = true
		req.DevolveAt = pol.LowThreshold.String()
		req.PrevStage = mustStage(rec.Level - 1)
	}
	return req, nil
}

// Snapshot returns a copy of every record ordered by asset ID.
func (e *Engine) Snapshot() []Record {
	var out []Record
	e.records.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		out = append(out, s.rec)
		s.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}
