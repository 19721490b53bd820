package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// BondStore implements domain.BondStore using PostgreSQL.
type BondStore struct {
	pool *pgxpool.Pool
}

// NewBondStore creates a new BondStore.
func NewBondStore(pool *pgxpool.Pool) *BondStore {
	return &BondStore{pool: pool}
}

const bondColumns = `
	id, principal::text, collateral_token, strategy, maturity_seconds,
	interest_rate_bps, interest_amount::text, deposited_at, matures_at,
	settled, settled_at`

// Create inserts a new bond position.
func (s *BondStore) Create(ctx context.Context, pos domain.BondPosition) error {
	const query = `
		INSERT INTO bond_positions (
			id, principal, collateral_token, strategy, maturity_seconds,
			interest_rate_bps, interest_amount, deposited_at, matures_at, settled
		) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7::numeric, $8, $9, FALSE)`
	_, err := s.pool.Exec(ctx, query,
		int64(pos.ID), bigOrZero(pos.Principal), pos.CollateralToken.Hex(), string(pos.Strategy),
		int64(pos.MaturityDuration/time.Second), int32(pos.InterestRateBps),
		bigOrZero(pos.InterestAmount), pos.DepositedAt, pos.MaturesAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bond %d: %w", pos.ID, err)
	}
	return nil
}

// Delete removes an unsettled position. Settled positions are immutable
// history and refuse deletion.
func (s *BondStore) Delete(ctx context.Context, id domain.BondID) error {
	const query = `DELETE FROM bond_positions WHERE id = $1 AND NOT settled`
	tag, err := s.pool.Exec(ctx, query, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: delete bond %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bond %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a bond position by id.
func (s *BondStore) GetByID(ctx context.Context, id domain.BondID) (domain.BondPosition, error) {
	query := `SELECT ` + bondColumns + ` FROM bond_positions WHERE id = $1`
	pos, err := scanBond(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BondPosition{}, fmt.Errorf("postgres: bond %d: %w", id, domain.ErrNotFound)
		}
		return domain.BondPosition{}, fmt.Errorf("postgres: get bond %d: %w", id, err)
	}
	return pos, nil
}

// ListUnsettled returns unsettled positions ordered by maturity.
func (s *BondStore) ListUnsettled(ctx context.Context, opts domain.ListOpts) ([]domain.BondPosition, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + bondColumns + `
		FROM bond_positions WHERE NOT settled
		ORDER BY matures_at LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled: %w", err)
	}
	defer rows.Close()

	var list []domain.BondPosition
	for rows.Next() {
		pos, err := scanBond(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, pos)
	}
	return list, rows.Err()
}

// OutstandingLiabilities sums principal+interest over unsettled positions.
func (s *BondStore) OutstandingLiabilities(ctx context.Context) (*big.Int, error) {
	const query = `
		SELECT COALESCE(SUM(principal + interest_amount), 0)::text
		FROM bond_positions WHERE NOT settled`
	var sum string
	if err := s.pool.QueryRow(ctx, query).Scan(&sum); err != nil {
		return nil, fmt.Errorf("postgres: outstanding liabilities: %w", err)
	}
	return parseBig(sum)
}

// CreateWithdrawalRequest inserts the request for a bond. The primary key on
// bond_id makes the at-most-one guard atomic with the insert.
func (s *BondStore) CreateWithdrawalRequest(ctx context.Context, req domain.WithdrawalRequest) error {
	const query = `
		INSERT INTO withdrawal_requests (bond_id, strategy, external_request_id, requested_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bond_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		int64(req.BondID), string(req.Strategy), req.ExternalRequestID, req.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create withdrawal request %d: %w", req.BondID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bond %d: %w", req.BondID, domain.ErrAlreadyRequested)
	}
	return nil
}

// GetWithdrawalRequest returns the request for a bond, if any.
func (s *BondStore) GetWithdrawalRequest(ctx context.Context, id domain.BondID) (domain.WithdrawalRequest, error) {
	const query = `
		SELECT bond_id, strategy, external_request_id, requested_at
		FROM withdrawal_requests WHERE bond_id = $1`
	var (
		req    domain.WithdrawalRequest
		bondID int64
		strat  string
	)
	err := s.pool.QueryRow(ctx, query, int64(id)).Scan(
		&bondID, &strat, &req.ExternalRequestID, &req.RequestedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WithdrawalRequest{}, fmt.Errorf("postgres: request for bond %d: %w", id, domain.ErrNotFound)
		}
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: get withdrawal request %d: %w", id, err)
	}
	req.BondID = domain.BondID(bondID)
	req.Strategy = domain.StrategyID(strat)
	return req, nil
}

// Settle marks the bond settled and records the given flows in one
// transaction, so a retry after a failed settle never double-books.
func (s *BondStore) Settle(ctx context.Context, id domain.BondID, settledAt time.Time, flows ...domain.TreasuryFlow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: settle bond %d: begin: %w", id, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE bond_positions SET settled = TRUE, settled_at = $2 WHERE id = $1 AND NOT settled`,
		int64(id), settledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle bond %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var settled bool
		err := tx.QueryRow(ctx, `SELECT settled FROM bond_positions WHERE id = $1`, int64(id)).Scan(&settled)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: bond %d: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("postgres: settle bond %d: %w", id, err)
		}
		return fmt.Errorf("postgres: bond %d: %w", id, domain.ErrAlreadySettled)
	}

	for _, flow := range flows {
		var bondID *int64
		if flow.BondID != nil {
			v := int64(*flow.BondID)
			bondID = &v
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO treasury_flows (direction, strategy, bond_id, token, amount, account, created_at)
			 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
			string(flow.Direction), string(flow.Strategy), bondID,
			flow.Token.Hex(), bigOrZero(flow.Amount), flow.Account.Hex(), flow.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: settle bond %d: record %s flow: %w", id, flow.Direction, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: settle bond %d: commit: %w", id, err)
	}
	return nil
}

// scanner abstracts pgx.Row and pgx.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanBond(row scanner) (domain.BondPosition, error) {
	var (
		pos             domain.BondPosition
		id              int64
		principal       string
		token           string
		strat           string
		maturitySeconds int64
		rateBps         int32
		interest        string
		settledAt       *time.Time
	)
	if err := row.Scan(
		&id, &principal, &token, &strat, &maturitySeconds,
		&rateBps, &interest, &pos.DepositedAt, &pos.MaturesAt,
		&pos.Settled, &settledAt,
	); err != nil {
		return domain.BondPosition{}, err
	}

	p, err := parseBig(principal)
	if err != nil {
		return domain.BondPosition{}, err
	}
	i, err := parseBig(interest)
	if err != nil {
		return domain.BondPosition{}, err
	}

	pos.ID = domain.BondID(id)
	pos.Principal = p
	pos.InterestAmount = i
	pos.CollateralToken = common.HexToAddress(token)
	pos.Strategy = domain.StrategyID(strat)
	pos.MaturityDuration = time.Duration(maturitySeconds) * time.Second
	pos.InterestRateBps = uint16(rateBps)
	pos.SettledAt = settledAt
	return pos, nil
}

var _ domain.BondStore = (*BondStore)(nil)
