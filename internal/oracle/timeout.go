package oracle

import (
	"context"
	stdErrors "errors"
	"time"

	xerrors "Evolve-Chain/internal/errors"
)

// DefaultTimeout bounds a single oracle read when none is configured.
const DefaultTimeout = 5 * time.Second

type timeoutOracle struct {
	next    Oracle
	timeout time.Duration
}

// WithTimeout bounds every read of next by timeout. A read that does not
// finish in time yields ErrUnavailable even if next ignores its context.
func WithTimeout(next Oracle, timeout time.Duration) Oracle {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timeoutOracle{next: next, timeout: timeout}
}

type readResult struct {
	signal Signal
	err    error
}

func (t *timeoutOracle) LatestSignal(ctx context.Context) (Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan readResult, 1)
	go func() {
		signal, err := t.next.LatestSignal(ctx)
		done <- readResult{signal: signal, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && stdErrors.Is(res.err, context.DeadlineExceeded) {
			return Signal{}, xerrors.Wrap(CodeUnavailable, res.err, "oracle read timed out")
		}
		return res.signal, res.err
	case <-ctx.Done():
		return Signal{}, xerrors.Wrap(CodeUnavailable, ctx.Err(), "oracle read timed out")
	}
}
