package notify

import (
	"context"
	"sync"
)

// MemorySink 在内存中保留最近的事件，供测试与调试接口使用。
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewMemorySink 创建内存 Sink，limit<=0 表示不限制。
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

// Name 实现 Sink。
func (m *MemorySink) Name() string { return "memory" }

// Publish 实现 Sink。
func (m *MemorySink) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	return nil
}

// Events 返回按投递顺序排列的事件副本。
func (m *MemorySink) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}
