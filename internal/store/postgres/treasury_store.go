package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// TreasuryStore implements domain.TreasuryStore using PostgreSQL.
type TreasuryStore struct {
	pool *pgxpool.Pool
}

// NewTreasuryStore creates a new TreasuryStore.
func NewTreasuryStore(pool *pgxpool.Pool) *TreasuryStore {
	return &TreasuryStore{pool: pool}
}

// RecordFlow appends one treasury flow.
func (s *TreasuryStore) RecordFlow(ctx context.Context, flow domain.TreasuryFlow) error {
	var bondID *int64
	if flow.BondID != nil {
		v := int64(*flow.BondID)
		bondID = &v
	}
	const query = `
		INSERT INTO treasury_flows (direction, strategy, bond_id, token, amount, account, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		string(flow.Direction), string(flow.Strategy), bondID,
		flow.Token.Hex(), bigOrZero(flow.Amount), flow.Account.Hex(), flow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record treasury flow: %w", err)
	}
	return nil
}

// ListFlows returns flows newest first.
func (s *TreasuryStore) ListFlows(ctx context.Context, opts domain.ListOpts) ([]domain.TreasuryFlow, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, direction, strategy, bond_id, token, amount::text, account, created_at
		FROM treasury_flows ORDER BY id DESC LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list treasury flows: %w", err)
	}
	defer rows.Close()

	var list []domain.TreasuryFlow
	for rows.Next() {
		var (
			flow    domain.TreasuryFlow
			dir     string
			strat   *string
			bondID  *int64
			token   string
			amount  string
			account *string
		)
		if err := rows.Scan(&flow.ID, &dir, &strat, &bondID, &token, &amount, &account, &flow.CreatedAt); err != nil {
			return nil, err
		}
		v, err := parseBig(amount)
		if err != nil {
			return nil, err
		}
		flow.Direction = domain.FlowDirection(dir)
		if strat != nil {
			flow.Strategy = domain.StrategyID(*strat)
		}
		if bondID != nil {
			id := domain.BondID(*bondID)
			flow.BondID = &id
		}
		flow.Token = common.HexToAddress(token)
		flow.Amount = v
		if account != nil {
			flow.Account = common.HexToAddress(*account)
		}
		list = append(list, flow)
	}
	return list, rows.Err()
}

// ValueRouted sums deposits minus claims for a strategy.
func (s *TreasuryStore) ValueRouted(ctx context.Context, id domain.StrategyID) (*big.Int, error) {
	const query = `
		SELECT COALESCE(SUM(CASE direction
			WHEN 'deposit' THEN amount
			WHEN 'claim' THEN -amount
			ELSE 0 END), 0)::text
		FROM treasury_flows WHERE strategy = $1`
	var sum string
	if err := s.pool.QueryRow(ctx, query, string(id)).Scan(&sum); err != nil {
		return nil, fmt.Errorf("postgres: value routed %s: %w", id, err)
	}
	return parseBig(sum)
}

// Reserve sums unattributed reserve inflows.
func (s *TreasuryStore) Reserve(ctx context.Context) (*big.Int, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM treasury_flows WHERE direction = 'reserve'`
	var sum string
	if err := s.pool.QueryRow(ctx, query).Scan(&sum); err != nil {
		return nil, fmt.Errorf("postgres: reserve: %w", err)
	}
	return parseBig(sum)
}

var _ domain.TreasuryStore = (*TreasuryStore)(nil)
