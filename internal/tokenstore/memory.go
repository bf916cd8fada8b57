package tokenstore

import (
	"context"
	"sync"

	"github.com/florianilch/authkeeper/internal/autherr"
)

// MemoryStore keeps the pair in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	pair *TokenPair
}

// Compile-time check to ensure MemoryStore implements TokenStore
var _ TokenStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*TokenPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, autherr.E(autherr.KindStorage, "tokenstore.Memory.Load", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pair == nil {
		return nil, nil
	}
	pair := *m.pair
	return &pair, nil
}

func (m *MemoryStore) Save(ctx context.Context, pair TokenPair) error {
	if err := checkSave(ctx, "tokenstore.Memory.Save", pair); err != nil {
		return err
	}

	m.mu.Lock()
	m.pair = &pair
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return autherr.E(autherr.KindStorage, "tokenstore.Memory.Clear", err)
	}

	m.mu.Lock()
	m.pair = nil
	m.mu.Unlock()
	return nil
}
