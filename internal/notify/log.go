package notify

import (
	"context"
	"log/slog"

	"Evolve-Chain/pkg/logger"
)

// LogSink 把事件写入审计日志。
type LogSink struct{}

// Name 实现 Sink。
func (LogSink) Name() string { return "log" }

// Publish 实现 Sink。
func (LogSink) Publish(_ context.Context, event Event) error {
	logger.Audit().Info("evolution_event",
		slog.String("event_id", event.ID),
		slog.Uint64("asset_id", event.AssetID),
		slog.Int("level", int(event.Level)),
		slog.String("stage", string(event.Stage)),
		slog.String("reason", string(event.Reason)),
		slog.Time("at", event.At),
	)
	return nil
}
