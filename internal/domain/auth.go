package domain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a named capability required by privileged operations.
type Role string

const (
	// RoleAdmin controls the rate table, token whitelist and strategy registry.
	RoleAdmin Role = "admin"
	// RoleDistributor may push rewards into the staking pool.
	RoleDistributor Role = "distributor"
	// RoleTreasurer may trigger treasury-level operations such as reserve
	// sweeps and solvency exports.
	RoleTreasurer Role = "treasurer"
)

// Authorizer answers whether a caller holds a role. Kept as a pure predicate
// over (caller, role) so services stay testable.
type Authorizer interface {
	HasRole(caller common.Address, role Role) bool
}

// RoleSet is an in-memory Authorizer. Safe for concurrent use.
type RoleSet struct {
	mu    sync.RWMutex
	roles map[common.Address]map[Role]bool
}

// NewRoleSet returns an empty RoleSet.
func NewRoleSet() *RoleSet {
	return &RoleSet{roles: make(map[common.Address]map[Role]bool)}
}

// Grant assigns a role to an account.
func (r *RoleSet) Grant(account common.Address, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[account] == nil {
		r.roles[account] = make(map[Role]bool)
	}
	r.roles[account][role] = true
}

// Revoke removes a role from an account.
func (r *RoleSet) Revoke(account common.Address, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles[account], role)
}

// HasRole implements Authorizer.
func (r *RoleSet) HasRole(caller common.Address, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[caller][role]
}

var _ Authorizer = (*RoleSet)(nil)
