package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// StrategyRegistryStore implements domain.StrategyRegistryStore using
// PostgreSQL.
type StrategyRegistryStore struct {
	pool *pgxpool.Pool
}

// NewStrategyRegistryStore creates a new StrategyRegistryStore.
func NewStrategyRegistryStore(pool *pgxpool.Pool) *StrategyRegistryStore {
	return &StrategyRegistryStore{pool: pool}
}

// SetApproved upserts the approval flag for a strategy.
func (s *StrategyRegistryStore) SetApproved(ctx context.Context, id domain.StrategyID, approved bool) error {
	const query = `
		INSERT INTO strategy_registry (strategy, approved, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (strategy) DO UPDATE SET approved = EXCLUDED.approved, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, string(id), approved); err != nil {
		return fmt.Errorf("postgres: set strategy %s: %w", id, err)
	}
	return nil
}

// IsApproved reports whether a strategy is approved. Unknown strategies are
// not approved.
func (s *StrategyRegistryStore) IsApproved(ctx context.Context, id domain.StrategyID) (bool, error) {
	const query = `SELECT approved FROM strategy_registry WHERE strategy = $1`
	var approved bool
	err := s.pool.QueryRow(ctx, query, string(id)).Scan(&approved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: strategy %s: %w", id, err)
	}
	return approved, nil
}

// ListApproved returns approved strategy IDs in sorted order.
func (s *StrategyRegistryStore) ListApproved(ctx context.Context) ([]domain.StrategyID, error) {
	rows, err := s.pool.Query(ctx, `SELECT strategy FROM strategy_registry WHERE approved ORDER BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list approved strategies: %w", err)
	}
	defer rows.Close()

	var ids []domain.StrategyID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.StrategyID(id))
	}
	return ids, rows.Err()
}

var _ domain.StrategyRegistryStore = (*StrategyRegistryStore)(nil)
