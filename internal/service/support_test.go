package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/strategy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// memBondStore is an in-memory domain.BondStore. createErr and settleErr
// inject one-shot failures.
type memBondStore struct {
	mu        sync.Mutex
	bonds     map[domain.BondID]domain.BondPosition
	requests  map[domain.BondID]domain.WithdrawalRequest
	flows     []domain.TreasuryFlow
	createErr error
	settleErr error
}

func newMemBondStore() *memBondStore {
	return &memBondStore{
		bonds:    make(map[domain.BondID]domain.BondPosition),
		requests: make(map[domain.BondID]domain.WithdrawalRequest),
	}
}

func (s *memBondStore) Create(_ context.Context, pos domain.BondPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		err := s.createErr
		s.createErr = nil
		return err
	}
	if _, ok := s.bonds[pos.ID]; ok {
		return fmt.Errorf("bond %d exists", pos.ID)
	}
	s.bonds[pos.ID] = pos
	return nil
}

func (s *memBondStore) Delete(_ context.Context, id domain.BondID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.bonds[id]
	if !ok || pos.Settled {
		return domain.ErrNotFound
	}
	delete(s.bonds, id)
	return nil
}

func (s *memBondStore) GetByID(_ context.Context, id domain.BondID) (domain.BondPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.bonds[id]
	if !ok {
		return domain.BondPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memBondStore) ListUnsettled(_ context.Context, _ domain.ListOpts) ([]domain.BondPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BondPosition
	for _, pos := range s.bonds {
		if !pos.Settled {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memBondStore) OutstandingLiabilities(_ context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := new(big.Int)
	for _, pos := range s.bonds {
		if !pos.Settled {
			total.Add(total, pos.Payout())
		}
	}
	return total, nil
}

func (s *memBondStore) CreateWithdrawalRequest(_ context.Context, req domain.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.BondID]; ok {
		return domain.ErrAlreadyRequested
	}
	s.requests[req.BondID] = req
	return nil
}

func (s *memBondStore) GetWithdrawalRequest(_ context.Context, id domain.BondID) (domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.WithdrawalRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (s *memBondStore) Settle(_ context.Context, id domain.BondID, settledAt time.Time, flows ...domain.TreasuryFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settleErr != nil {
		err := s.settleErr
		s.settleErr = nil
		return err
	}
	pos, ok := s.bonds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Settled {
		return domain.ErrAlreadySettled
	}
	pos.Settled = true
	pos.SettledAt = &settledAt
	s.bonds[id] = pos
	s.flows = append(s.flows, flows...)
	return nil
}

// memRateStore is an in-memory domain.RateStore.
type memRateStore struct {
	mu    sync.Mutex
	rates map[time.Duration]uint16
}

func newMemRateStore() *memRateStore {
	return &memRateStore{rates: make(map[time.Duration]uint16)}
}

func (s *memRateStore) Set(_ context.Context, d time.Duration, bps uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[d] = bps
	return nil
}

func (s *memRateStore) Delete(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rates, d)
	return nil
}

func (s *memRateStore) Get(_ context.Context, d time.Duration) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bps, ok := s.rates[d]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return bps, nil
}

func (s *memRateStore) List(_ context.Context) (map[time.Duration]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[time.Duration]uint16, len(s.rates))
	for d, bps := range s.rates {
		out[d] = bps
	}
	return out, nil
}

// memTokenStore is an in-memory domain.TokenWhitelistStore.
type memTokenStore struct {
	mu      sync.Mutex
	allowed map[common.Address]bool
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{allowed: make(map[common.Address]bool)}
}

func (s *memTokenStore) SetAllowed(_ context.Context, token common.Address, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[token] = allowed
	return nil
}

func (s *memTokenStore) IsAllowed(_ context.Context, token common.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed[token], nil
}

func (s *memTokenStore) List(_ context.Context) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []common.Address
	for token, ok := range s.allowed {
		if ok {
			out = append(out, token)
		}
	}
	return out, nil
}

// memClaims is an in-memory domain.ClaimRegistry with monotonic ids.
type memClaims struct {
	mu     sync.Mutex
	nextID domain.BondID
	owners map[domain.BondID]common.Address
}

func newMemClaims() *memClaims {
	return &memClaims{nextID: 1, owners: make(map[domain.BondID]common.Address)}
}

func (c *memClaims) Mint(_ context.Context, to common.Address) (domain.BondID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.owners[id] = to
	return id, nil
}

func (c *memClaims) OwnerOf(_ context.Context, id domain.BondID) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[id]
	if !ok {
		return common.Address{}, domain.ErrNotFound
	}
	return owner, nil
}

func (c *memClaims) Transfer(_ context.Context, from, to common.Address, id domain.BondID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[id]
	if !ok {
		return domain.ErrNotFound
	}
	if owner != from {
		return domain.ErrNotBondOwner
	}
	c.owners[id] = to
	return nil
}

func (c *memClaims) Burn(_ context.Context, id domain.BondID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.owners[id]; !ok {
		return domain.ErrNotFound
	}
	delete(c.owners, id)
	return nil
}

// memApprovals is an in-memory domain.StrategyRegistryStore.
type memApprovals struct {
	mu       sync.Mutex
	approved map[domain.StrategyID]bool
}

func newMemApprovals() *memApprovals {
	return &memApprovals{approved: make(map[domain.StrategyID]bool)}
}

func (s *memApprovals) SetApproved(_ context.Context, id domain.StrategyID, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[id] = approved
	return nil
}

func (s *memApprovals) IsApproved(_ context.Context, id domain.StrategyID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approved[id], nil
}

func (s *memApprovals) ListApproved(_ context.Context) ([]domain.StrategyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StrategyID
	for id, ok := range s.approved {
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// memTreasuryStore is an in-memory domain.TreasuryStore.
type memTreasuryStore struct {
	mu    sync.Mutex
	flows []domain.TreasuryFlow
}

func (s *memTreasuryStore) RecordFlow(_ context.Context, flow domain.TreasuryFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow.ID = int64(len(s.flows) + 1)
	s.flows = append(s.flows, flow)
	return nil
}

func (s *memTreasuryStore) ListFlows(_ context.Context, _ domain.ListOpts) ([]domain.TreasuryFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TreasuryFlow, len(s.flows))
	copy(out, s.flows)
	return out, nil
}

func (s *memTreasuryStore) ValueRouted(_ context.Context, id domain.StrategyID) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := new(big.Int)
	for _, f := range s.flows {
		if f.Strategy != id {
			continue
		}
		switch f.Direction {
		case domain.FlowDeposit:
			total.Add(total, f.Amount)
		case domain.FlowClaim:
			total.Sub(total, f.Amount)
		}
	}
	return total, nil
}

func (s *memTreasuryStore) Reserve(_ context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := new(big.Int)
	for _, f := range s.flows {
		if f.Direction == domain.FlowReserve {
			total.Add(total, f.Amount)
		}
	}
	return total, nil
}

// memStakingStore is an in-memory domain.StakingStore.
type memStakingStore struct {
	mu       sync.Mutex
	state    domain.StakingPoolState
	accounts map[common.Address]domain.StakingAccount
}

func newMemStakingStore() *memStakingStore {
	return &memStakingStore{
		state: domain.StakingPoolState{
			TotalShares:       new(big.Int),
			AccRewardPerShare: new(big.Int),
		},
		accounts: make(map[common.Address]domain.StakingAccount),
	}
}

func (s *memStakingStore) PoolState(_ context.Context) (domain.StakingPoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *memStakingStore) SavePoolState(_ context.Context, state domain.StakingPoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

func (s *memStakingStore) Account(_ context.Context, owner common.Address) (domain.StakingAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[owner]
	if !ok {
		return domain.StakingAccount{
			Owner:      owner,
			Shares:     new(big.Int),
			RewardDebt: new(big.Int),
		}, nil
	}
	return acc, nil
}

func (s *memStakingStore) SaveAccount(_ context.Context, acc domain.StakingAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Owner] = acc
	return nil
}

// memRewardToken is an in-memory domain.RewardToken without minter gating.
type memRewardToken struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

func newMemRewardToken() *memRewardToken {
	return &memRewardToken{balances: make(map[common.Address]*big.Int)}
}

func (t *memRewardToken) balance(account common.Address) *big.Int {
	if bal, ok := t.balances[account]; ok {
		return bal
	}
	bal := new(big.Int)
	t.balances[account] = bal
	return bal
}

func (t *memRewardToken) Mint(_ context.Context, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(to)
	bal.Add(bal, amount)
	return nil
}

func (t *memRewardToken) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(account)), nil
}

func (t *memRewardToken) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.balance(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	src.Sub(src, amount)
	dst := t.balance(to)
	dst.Add(dst, amount)
	return nil
}

// fakeAdapter is a scriptable domain.StrategyAdapter.
type fakeAdapter struct {
	id      domain.StrategyID
	kind    domain.StrategyKind
	holding common.Address

	depositErr  error
	requestErr  error
	finalizeErr error
	claimAmount *big.Int
	held        *big.Int

	mu        sync.Mutex
	deposits  int
	requests  int
	finalizes int
}

func (a *fakeAdapter) ID() domain.StrategyID        { return a.id }
func (a *fakeAdapter) Kind() domain.StrategyKind    { return a.kind }
func (a *fakeAdapter) HoldingToken() common.Address { return a.holding }

func (a *fakeAdapter) Deposit(_ context.Context, _ domain.BondID, _ common.Address, _ *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deposits++
	return a.depositErr
}

func (a *fakeAdapter) RequestWithdrawal(_ context.Context, bondID domain.BondID) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests++
	if a.requestErr != nil {
		return "", a.requestErr
	}
	return fmt.Sprintf("req-%d", bondID), nil
}

func (a *fakeAdapter) IsFinalized(_ context.Context, _ domain.BondID, _ string) (bool, error) {
	return a.finalizeErr == nil, nil
}

func (a *fakeAdapter) FinalizeAndClaim(_ context.Context, _ domain.BondID, _ string) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalizes++
	if a.finalizeErr != nil {
		return nil, a.finalizeErr
	}
	return new(big.Int).Set(a.claimAmount), nil
}

func (a *fakeAdapter) ValueHeld(_ context.Context) (*big.Int, error) {
	if a.held == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(a.held), nil
}

var _ domain.StrategyAdapter = (*fakeAdapter)(nil)

// fixedOracle prices every token at a fixed value.
type fixedOracle struct {
	price *big.Int
}

func (o fixedOracle) Price(_ context.Context, _ common.Address) (*big.Int, time.Time, error) {
	return new(big.Int).Set(o.price), time.Now().UTC(), nil
}

// bondFixture wires a BondManager over in-memory collaborators with one
// approved strategy and one whitelisted token.
type bondFixture struct {
	manager   *BondManager
	treasury  *Treasury
	bonds     *memBondStore
	rates     *memRateStore
	tokens    *memTokenStore
	claims    *memClaims
	approvals *memApprovals
	flows     *memTreasuryStore
	adapter   *fakeAdapter
	roles     *domain.RoleSet
	admin     common.Address
	holder    common.Address
	token     common.Address
	now       time.Time
}

func newBondFixture() *bondFixture {
	f := &bondFixture{
		bonds:     newMemBondStore(),
		rates:     newMemRateStore(),
		tokens:    newMemTokenStore(),
		claims:    newMemClaims(),
		approvals: newMemApprovals(),
		flows:     &memTreasuryStore{},
		roles:     domain.NewRoleSet(),
		admin:     common.HexToAddress("0xA11CE00000000000000000000000000000000001"),
		holder:    common.HexToAddress("0xB0B0000000000000000000000000000000000002"),
		token:     common.HexToAddress("0x7000000000000000000000000000000000000003"),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.adapter = &fakeAdapter{
		id:          "test_strategy",
		kind:        domain.StrategyQueuedUnstake,
		holding:     f.token,
		claimAmount: big.NewInt(1_000_000),
		held:        big.NewInt(1_000_000),
	}
	f.roles.Grant(f.admin, domain.RoleAdmin)

	registry := strategy.NewRegistry()
	registry.Register(f.adapter)

	logger := testLogger()
	f.treasury = NewTreasury(registry, f.approvals, f.flows, fixedOracle{price: big.NewInt(1)}, f.roles, nil, nil, logger)
	f.treasury.now = func() time.Time { return f.now }
	f.manager = NewBondManager(f.bonds, f.rates, f.tokens, f.claims, f.treasury, f.roles, nil, nil, nil, logger)
	f.manager.now = func() time.Time { return f.now }

	ctx := context.Background()
	_ = f.approvals.SetApproved(ctx, f.adapter.id, true)
	_ = f.tokens.SetAllowed(ctx, f.token, true)
	_ = f.rates.Set(ctx, 30*24*time.Hour, 500)
	return f
}

func (f *bondFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}
