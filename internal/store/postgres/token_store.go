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

// TokenWhitelistStore implements domain.TokenWhitelistStore using PostgreSQL.
type TokenWhitelistStore struct {
	pool *pgxpool.Pool
}

// NewTokenWhitelistStore creates a new TokenWhitelistStore.
func NewTokenWhitelistStore(pool *pgxpool.Pool) *TokenWhitelistStore {
	return &TokenWhitelistStore{pool: pool}
}

// SetAllowed upserts the whitelist entry for a token.
func (s *TokenWhitelistStore) SetAllowed(ctx context.Context, token common.Address, allowed bool) error {
	const query = `
		INSERT INTO bondable_tokens (token, allowed) VALUES ($1, $2)
		ON CONFLICT (token) DO UPDATE SET allowed = EXCLUDED.allowed`
	if _, err := s.pool.Exec(ctx, query, token.Hex(), allowed); err != nil {
		return fmt.Errorf("postgres: set bondable token %s: %w", token.Hex(), err)
	}
	return nil
}

// IsAllowed reports whether a token may back new bonds. Unknown tokens are
// not allowed.
func (s *TokenWhitelistStore) IsAllowed(ctx context.Context, token common.Address) (bool, error) {
	const query = `SELECT allowed FROM bondable_tokens WHERE token = $1`
	var allowed bool
	err := s.pool.QueryRow(ctx, query, token.Hex()).Scan(&allowed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: bondable token %s: %w", token.Hex(), err)
	}
	return allowed, nil
}

// List returns the currently allowed tokens.
func (s *TokenWhitelistStore) List(ctx context.Context) ([]common.Address, error) {
	rows, err := s.pool.Query(ctx, `SELECT token FROM bondable_tokens WHERE allowed ORDER BY token`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bondable tokens: %w", err)
	}
	defer rows.Close()

	var tokens []common.Address
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, err
		}
		tokens = append(tokens, common.HexToAddress(hex))
	}
	return tokens, rows.Err()
}

var _ domain.TokenWhitelistStore = (*TokenWhitelistStore)(nil)
