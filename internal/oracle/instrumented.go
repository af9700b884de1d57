package oracle

import (
	"context"
	"time"

	"Evolve-Chain/internal/observability/metrics"
)

type instrumented struct {
	feed string
	next Oracle
}

// Instrumented records read latency and failures for feed.
func Instrumented(feed string, next Oracle) Oracle {
	return &instrumented{feed: feed, next: next}
}

func (i *instrumented) LatestSignal(ctx context.Context) (Signal, error) {
	start := time.Now()
	signal, err := i.next.LatestSignal(ctx)
	metrics.ObserveOracleRead(i.feed, time.Since(start), err)
	return signal, err
}
