package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bondvault/internal/service"
)

// StakingHandler serves the reward staking pool endpoints.
type StakingHandler struct {
	pool   *service.StakingPool
	logger *slog.Logger
}

// NewStakingHandler creates a StakingHandler.
func NewStakingHandler(pool *service.StakingPool, logger *slog.Logger) *StakingHandler {
	return &StakingHandler{pool: pool, logger: logHandler(logger, "staking")}
}

// amountRequest is the shared body for stake, withdraw and reward endpoints.
type amountRequest struct {
	Amount string `json:"amount"`
}

// Stake moves reward tokens from the caller into the pool.
// POST /api/staking/stake
func (h *StakingHandler) Stake(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pool.Stake(r.Context(), caller, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Withdraw returns staked tokens plus any pending reward to the caller.
// POST /api/staking/withdraw
func (h *StakingHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pool.Withdraw(r.Context(), caller, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Harvest pays out the caller's pending reward without unstaking.
// POST /api/staking/harvest
func (h *StakingHandler) Harvest(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	paid, err := h.pool.Harvest(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": paid.String()})
}

// AddReward distributes new reward across current stakers. Distributor role
// required.
// POST /api/staking/rewards
func (h *StakingHandler) AddReward(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pool.AddReward(r.Context(), caller, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PendingReward returns the accrued but unpaid reward for an account.
// GET /api/staking/pending?owner=0x...
func (h *StakingHandler) PendingReward(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending, err := h.pool.PendingReward(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":   owner.Hex(),
		"pending": pending.String(),
	})
}
