package registry

import (
	"context"
	"sync"
	"time"
)

// Memory keeps assets in process memory.
type Memory struct {
	mu     sync.RWMutex
	assets []Asset
	clock  func() time.Time
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{clock: time.Now}
}

// Mint implements Registry.
func (m *Memory) Mint(ctx context.Context, owner string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	normalized, err := NormalizeOwner(owner)
	if err != nil {
		return Asset{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	asset := Asset{ID: uint64(len(m.assets)) + 1, Owner: normalized, MintedAt: m.clock().UTC()}
	m.assets = append(m.assets, asset)
	return asset, nil
}

// Exists implements Registry.
func (m *Memory) Exists(_ context.Context, id uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return id >= 1 && id <= uint64(len(m.assets)), nil
}

// Get implements Registry.
func (m *Memory) Get(_ context.Context, id uint64) (Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 1 || id > uint64(len(m.assets)) {
		return Asset{}, notFound(id)
	}
	return m.assets[id-1], nil
}

// OwnerOf implements Registry.
func (m *Memory) OwnerOf(ctx context.Context, id uint64) (string, error) {
	asset, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return asset.Owner, nil
}

// List implements Registry.
func (m *Memory) List(_ context.Context, limit, offset int) ([]Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(m.assets) {
		return []Asset{}, nil
	}
	end := len(m.assets)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Asset, end-offset)
	copy(out, m.assets[offset:end])
	return out, nil
}

var _ Registry = (*Memory)(nil)
