package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// ClaimStore implements domain.ClaimRegistry using PostgreSQL. The bond_claims
// serial id doubles as the bond id, giving monotonic assignment that survives
// restarts.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore creates a new ClaimStore.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

// Mint assigns the next claim id to the given owner.
func (s *ClaimStore) Mint(ctx context.Context, to common.Address) (domain.BondID, error) {
	if to == (common.Address{}) {
		return 0, fmt.Errorf("postgres: mint claim: %w", domain.ErrZeroAddress)
	}
	const query = `INSERT INTO bond_claims (owner) VALUES ($1) RETURNING id`
	var id int64
	if err := s.pool.QueryRow(ctx, query, to.Hex()).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: mint claim: %w", err)
	}
	return domain.BondID(id), nil
}

// OwnerOf resolves the current holder of a claim.
func (s *ClaimStore) OwnerOf(ctx context.Context, id domain.BondID) (common.Address, error) {
	const query = `SELECT owner FROM bond_claims WHERE id = $1`
	var owner string
	err := s.pool.QueryRow(ctx, query, int64(id)).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, fmt.Errorf("postgres: claim %d: %w", id, domain.ErrNotFound)
		}
		return common.Address{}, fmt.Errorf("postgres: owner of claim %d: %w", id, err)
	}
	return common.HexToAddress(owner), nil
}

// Transfer moves a claim between accounts. Only the current holder may
// transfer; a compare-and-set on owner keeps the check atomic.
func (s *ClaimStore) Transfer(ctx context.Context, from, to common.Address, id domain.BondID) error {
	if to == (common.Address{}) {
		return fmt.Errorf("postgres: transfer claim %d: %w", id, domain.ErrZeroAddress)
	}
	const query = `UPDATE bond_claims SET owner = $1 WHERE id = $2 AND owner = $3`
	tag, err := s.pool.Exec(ctx, query, to.Hex(), int64(id), from.Hex())
	if err != nil {
		return fmt.Errorf("postgres: transfer claim %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		owner, err := s.OwnerOf(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("postgres: claim %d held by %s: %w", id, owner.Hex(), domain.ErrNotBondOwner)
	}
	return nil
}

// Burn retires a claim. The serial sequence is untouched, so the id is never
// reassigned to a later mint.
func (s *ClaimStore) Burn(ctx context.Context, id domain.BondID) error {
	const query = `DELETE FROM bond_claims WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: burn claim %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: claim %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.ClaimRegistry = (*ClaimStore)(nil)
