package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/service"
)

// AdminHandler serves the admin configuration endpoints: interest rates,
// bondable tokens and strategy approvals.
type AdminHandler struct {
	bonds    *service.BondManager
	treasury *service.Treasury
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(bonds *service.BondManager, treasury *service.Treasury, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{bonds: bonds, treasury: treasury, logger: logHandler(logger, "admin")}
}

// setRatesRequest carries parallel maturity/rate arrays. A rate of zero
// removes the maturity from the table.
type setRatesRequest struct {
	MaturitySeconds []int64  `json:"maturity_seconds"`
	RatesBps        []uint16 `json:"rates_bps"`
}

// SetRates replaces interest rate table entries.
// PUT /api/admin/rates
func (h *AdminHandler) SetRates(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req setRatesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	durations := make([]time.Duration, len(req.MaturitySeconds))
	for i, s := range req.MaturitySeconds {
		durations[i] = time.Duration(s) * time.Second
	}

	if err := h.bonds.SetInterestRates(r.Context(), caller, durations, req.RatesBps); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// setTokensRequest toggles whitelist membership for a batch of tokens.
type setTokensRequest struct {
	Tokens  []string `json:"tokens"`
	Allowed bool     `json:"allowed"`
}

// SetTokens updates the bondable token whitelist.
// PUT /api/admin/tokens
func (h *AdminHandler) SetTokens(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req setTokensRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tokens := make([]common.Address, len(req.Tokens))
	for i, raw := range req.Tokens {
		addr, err := parseAddress("tokens", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tokens[i] = addr
	}

	if err := h.bonds.SetBondableTokens(r.Context(), caller, tokens, req.Allowed); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// setStrategiesRequest toggles approval for a batch of strategies.
type setStrategiesRequest struct {
	Strategies []string `json:"strategies"`
	Approved   bool     `json:"approved"`
}

// SetStrategies updates the approved strategy set.
// PUT /api/admin/strategies
func (h *AdminHandler) SetStrategies(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req setStrategiesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]domain.StrategyID, len(req.Strategies))
	for i, s := range req.Strategies {
		ids[i] = domain.StrategyID(s)
	}

	if err := h.treasury.SetStrategies(r.Context(), caller, ids, req.Approved); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
