package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/service"
)

// BondHandler serves the bond lifecycle endpoints.
type BondHandler struct {
	bonds  *service.BondManager
	logger *slog.Logger
}

// NewBondHandler creates a BondHandler.
func NewBondHandler(bonds *service.BondManager, logger *slog.Logger) *BondHandler {
	return &BondHandler{bonds: bonds, logger: logHandler(logger, "bond")}
}

// bondResponse is the JSON shape of a bond position. Amounts are decimal
// strings.
type bondResponse struct {
	ID              uint64     `json:"id"`
	Principal       string     `json:"principal"`
	CollateralToken string     `json:"collateral_token"`
	Strategy        string     `json:"strategy"`
	MaturitySeconds int64      `json:"maturity_seconds"`
	InterestRateBps uint16     `json:"interest_rate_bps"`
	InterestAmount  string     `json:"interest_amount"`
	DepositedAt     time.Time  `json:"deposited_at"`
	MaturesAt       time.Time  `json:"matures_at"`
	Settled         bool       `json:"settled"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

func toBondResponse(pos domain.BondPosition) bondResponse {
	return bondResponse{
		ID:              uint64(pos.ID),
		Principal:       pos.Principal.String(),
		CollateralToken: pos.CollateralToken.Hex(),
		Strategy:        string(pos.Strategy),
		MaturitySeconds: int64(pos.MaturityDuration / time.Second),
		InterestRateBps: pos.InterestRateBps,
		InterestAmount:  pos.InterestAmount.String(),
		DepositedAt:     pos.DepositedAt,
		MaturesAt:       pos.MaturesAt,
		Settled:         pos.Settled,
		SettledAt:       pos.SettledAt,
	}
}

// depositRequest is the body for creating a bond.
type depositRequest struct {
	Beneficiary     string `json:"beneficiary,omitempty"`
	CollateralToken string `json:"collateral_token"`
	Strategy        string `json:"strategy"`
	Principal       string `json:"principal"`
	MaturitySeconds int64  `json:"maturity_seconds"`
}

// Deposit locks collateral into a new bond.
// POST /api/bonds
func (h *BondHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := parseAddress("collateral_token", req.CollateralToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, err := parseAmount("principal", req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	beneficiary := caller
	if req.Beneficiary != "" {
		if beneficiary, err = parseAddress("beneficiary", req.Beneficiary); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	pos, err := h.bonds.Deposit(r.Context(), caller, beneficiary, token,
		domain.StrategyID(req.Strategy), principal,
		time.Duration(req.MaturitySeconds)*time.Second)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBondResponse(pos))
}

// WithdrawRequest starts the asynchronous unlock for a matured bond.
// POST /api/bonds/{id}/withdraw-request
func (h *BondHandler) WithdrawRequest(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	bondID, err := pathBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.bonds.WithdrawRequest(r.Context(), caller, bondID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"bond_id":      uint64(req.BondID),
		"strategy":     string(req.Strategy),
		"handle":       req.ExternalRequestID,
		"requested_at": req.RequestedAt,
	})
}

// Withdraw settles a finalized bond and pays out principal plus interest.
// POST /api/bonds/{id}/withdraw
func (h *BondHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	bondID, err := pathBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.bonds.Withdraw(r.Context(), caller, bondID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bond_id": uint64(bondID),
		"payout":  payout.String(),
	})
}

// GetBond returns one bond position.
// GET /api/bonds/{id}
func (h *BondHandler) GetBond(w http.ResponseWriter, r *http.Request) {
	bondID, err := pathBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.bonds.Bond(r.Context(), bondID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBondResponse(pos))
}

// GetRequest returns a bond's withdrawal request, if one exists.
// GET /api/bonds/{id}/request
func (h *BondHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	bondID, err := pathBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := h.bonds.BondRequest(r.Context(), bondID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bond_id":      uint64(req.BondID),
		"strategy":     string(req.Strategy),
		"handle":       req.ExternalRequestID,
		"requested_at": req.RequestedAt,
	})
}

// ListUnsettled returns open bond positions.
// GET /api/bonds
func (h *BondHandler) ListUnsettled(w http.ResponseWriter, r *http.Request) {
	positions, err := h.bonds.Unsettled(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]bondResponse, 0, len(positions))
	for _, pos := range positions {
		out = append(out, toBondResponse(pos))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bonds": out})
}

// ListRates returns the maturity -> interest rate table.
// GET /api/rates
func (h *BondHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.bonds.InterestRates(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(rates))
	for dur, bps := range rates {
		out = append(out, map[string]any{
			"maturity_seconds": int64(dur / time.Second),
			"rate_bps":         bps,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": out})
}

// Liabilities returns the sum of unsettled principal plus locked interest.
// GET /api/liabilities
func (h *BondHandler) Liabilities(w http.ResponseWriter, r *http.Request) {
	total, err := h.bonds.OutstandingLiabilities(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"liabilities": total.String()})
}
