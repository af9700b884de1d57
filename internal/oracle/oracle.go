package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	xerrors "Evolve-Chain/internal/errors"
)

// Signal is one sampled value of the external feed.
type Signal struct {
	Value     decimal.Decimal `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
	Source    string          `json:"source,omitempty"`
}

// Oracle supplies the latest signal value on demand. Implementations must be
// safe for concurrent use.
type Oracle interface {
	LatestSignal(ctx context.Context) (Signal, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context) (Signal, error)

// LatestSignal implements Oracle.
func (f Func) LatestSignal(ctx context.Context) (Signal, error) {
	return f(ctx)
}

const (
	CodeUnavailable    xerrors.Code = "ORACLE_UNAVAILABLE"
	CodeUnusableSignal xerrors.Code = "ORACLE_UNUSABLE_SIGNAL"
)

var (
	// ErrUnavailable marks transport, timeout and configuration failures.
	ErrUnavailable = xerrors.New(CodeUnavailable, "oracle unavailable")
	// ErrUnusableSignal marks answers that were read but must not be acted on
	// (stale or incomplete rounds).
	ErrUnusableSignal = xerrors.New(CodeUnusableSignal, "oracle returned an unusable signal")
)

func init() {
	xerrors.Register(CodeUnavailable, xerrors.Attributes{
		Message:   "oracle unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeUnusableSignal, xerrors.Attributes{
		Message:   "oracle returned an unusable signal",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}
