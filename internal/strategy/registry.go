package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// Registry manages the named collection of configured strategy adapters.
// Registration happens at wire time; approval is a separate, persisted
// concern owned by the treasury. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.StrategyID]domain.StrategyAdapter
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.StrategyID]domain.StrategyAdapter)}
}

// Register adds an adapter under its own ID. An adapter with the same ID is
// replaced.
func (r *Registry) Register(a domain.StrategyAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get retrieves an adapter by ID. It returns an error wrapping
// domain.ErrStrategyNotApproved when the ID is not configured at all, since
// an unconfigured strategy can never be approved.
func (r *Registry) Get(id domain.StrategyID) (domain.StrategyAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("strategy %q not configured: %w", id, domain.ErrStrategyNotApproved)
	}
	return a, nil
}

// List returns all configured strategy IDs in sorted order.
func (r *Registry) List() []domain.StrategyID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.StrategyID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
