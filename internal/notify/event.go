package notify

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/observability/metrics"
	"Evolve-Chain/pkg/logger"
)

// Event 是对外发布的进化变更消息。
type Event struct {
	ID      string           `json:"id"`
	AssetID uint64           `json:"asset_id"`
	Level   evolution.Level  `json:"level"`
	Stage   evolution.Stage  `json:"stage"`
	Reason  evolution.Reason `json:"reason"`
	At      time.Time        `json:"at"`
}

// FromChange 为引擎变更生成一个新的事件 ID。
func FromChange(change evolution.Change) Event {
	return Event{
		ID:      uuid.NewString(),
		AssetID: change.AssetID,
		Level:   change.Level,
		Stage:   change.Stage,
		Reason:  change.Reason,
		At:      change.At.UTC(),
	}
}

// Sink 是单个投递目标。
type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}

// Notifier 把变更扇出到多个 Sink。
type Notifier struct {
	sinks []Sink
	log   *slog.Logger
}

// NewNotifier 创建扇出器，nil Sink 会被忽略。
func NewNotifier(sinks ...Sink) *Notifier {
	n := &Notifier{log: logger.Named("notify")}
	for _, s := range sinks {
		if s != nil {
			n.sinks = append(n.sinks, s)
		}
	}
	return n
}

// Sinks 返回已注册的投递目标名称。
func (n *Notifier) Sinks() []string {
	names := make([]string, 0, len(n.sinks))
	for _, s := range n.sinks {
		names = append(names, s.Name())
	}
	return names
}

// OnEvolutionChanged 实现 evolution.Sink。
func (n *Notifier) OnEvolutionChanged(ctx context.Context, change evolution.Change) error {
	return n.Publish(ctx, FromChange(change))
}

// Publish 将事件投递给所有 Sink，单个失败不会阻止其余投递。
func (n *Notifier) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range n.sinks {
		if err := s.Publish(ctx, event); err != nil {
			metrics.ObserveNotifyFailure(s.Name())
			n.log.Warn("投递进化事件失败",
				slog.String("sink", s.Name()),
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return stdErrors.Join(errs...)
}

// Close 关闭实现了 io.Closer 的 Sink。
func (n *Notifier) Close() error {
	var errs []error
	for _, s := range n.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
			}
		}
	}
	return stdErrors.Join(errs...)
}

var _ evolution.Sink = (*Notifier)(nil)
