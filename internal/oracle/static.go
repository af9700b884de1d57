package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "Evolve-Chain/internal/errors"
)

// Static returns a configurable fixed value. Set and Fail let tests and dry
// runs steer evaluation outcomes.
type Static struct {
	mu    sync.RWMutex
	value decimal.Decimal
	err   error
	now   func() time.Time
	calls int
}

// NewStatic creates a static oracle reporting value.
func NewStatic(value decimal.Decimal) *Static {
	return &Static{value: value, now: time.Now}
}

// Set replaces the reported value and clears any injected failure.
func (s *Static) Set(value decimal.Decimal) {
	s.mu.Lock()
	s.value = value
	s.err = nil
	s.mu.Unlock()
}

// Fail makes subsequent reads return err until Set is called.
func (s *Static) Fail(err error) {
	if err == nil {
		err = ErrUnavailable
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Calls reports how many reads were served.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// LatestSignal implements Oracle.
func (s *Static) LatestSignal(ctx context.Context) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, xerrors.Wrap(CodeUnavailable, err, "static oracle read cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Signal{}, s.err
	}
	return Signal{Value: s.value, UpdatedAt: s.now(), Source: "static"}, nil
}

var _ Oracle = (*Static)(nil)
