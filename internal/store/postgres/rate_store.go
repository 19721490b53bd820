package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// RateStore implements domain.RateStore using PostgreSQL.
type RateStore struct {
	pool *pgxpool.Pool
}

// NewRateStore creates a new RateStore.
func NewRateStore(pool *pgxpool.Pool) *RateStore {
	return &RateStore{pool: pool}
}

// Set upserts the rate for a maturity.
func (s *RateStore) Set(ctx context.Context, duration time.Duration, rateBps uint16) error {
	const query = `
		INSERT INTO interest_rates (maturity_seconds, rate_bps) VALUES ($1, $2)
		ON CONFLICT (maturity_seconds) DO UPDATE SET rate_bps = EXCLUDED.rate_bps`
	if _, err := s.pool.Exec(ctx, query, int64(duration/time.Second), int32(rateBps)); err != nil {
		return fmt.Errorf("postgres: set rate %s: %w", duration, err)
	}
	return nil
}

// Delete removes the rate entry for a maturity. Deleting a missing entry is
// not an error.
func (s *RateStore) Delete(ctx context.Context, duration time.Duration) error {
	const query = `DELETE FROM interest_rates WHERE maturity_seconds = $1`
	if _, err := s.pool.Exec(ctx, query, int64(duration/time.Second)); err != nil {
		return fmt.Errorf("postgres: delete rate %s: %w", duration, err)
	}
	return nil
}

// Get returns the rate for a maturity, or domain.ErrNotFound.
func (s *RateStore) Get(ctx context.Context, duration time.Duration) (uint16, error) {
	const query = `SELECT rate_bps FROM interest_rates WHERE maturity_seconds = $1`
	var rate int32
	err := s.pool.QueryRow(ctx, query, int64(duration/time.Second)).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("postgres: rate %s: %w", duration, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("postgres: get rate %s: %w", duration, err)
	}
	return uint16(rate), nil
}

// List returns the whole table.
func (s *RateStore) List(ctx context.Context) (map[time.Duration]uint16, error) {
	rows, err := s.pool.Query(ctx, `SELECT maturity_seconds, rate_bps FROM interest_rates`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rates: %w", err)
	}
	defer rows.Close()

	table := make(map[time.Duration]uint16)
	for rows.Next() {
		var seconds int64
		var rate int32
		if err := rows.Scan(&seconds, &rate); err != nil {
			return nil, err
		}
		table[time.Duration(seconds)*time.Second] = uint16(rate)
	}
	return table, rows.Err()
}

var _ domain.RateStore = (*RateStore)(nil)
