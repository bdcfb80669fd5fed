package market

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/internal/domain"
)

// MemoryRegistry 进程内登记表
type MemoryRegistry struct {
	mu      sync.RWMutex
	markets map[solana.PublicKey]domain.MarketDescriptor
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{markets: make(map[solana.PublicKey]domain.MarketDescriptor)}
}

func (r *MemoryRegistry) Put(ctx context.Context, d domain.MarketDescriptor) error {
	if d.Address.IsZero() {
		return fmt.Errorf("%w: market address is required", domain.ErrInvalidOrder)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[d.Address] = d
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, market solana.PublicKey) (*domain.MarketDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.markets[market]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", market, domain.ErrNotFound)
	}
	return &d, nil
}

// List 按创建时间排序，新的在前
func (r *MemoryRegistry) List(ctx context.Context) ([]domain.MarketDescriptor, error) {
	r.mu.RLock()
	out := make([]domain.MarketDescriptor, 0, len(r.markets))
	for _, d := range r.markets {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Address.String() < out[j].Address.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
