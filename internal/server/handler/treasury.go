package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bondvault/internal/blob/s3"
	"github.com/alanyoungcy/bondvault/internal/service"
)

// TreasuryHandler serves the treasury flow, reserve and solvency endpoints.
type TreasuryHandler struct {
	treasury *service.Treasury
	monitor  *service.SolvencyMonitor
	reports  *s3blob.Reader // nil when archival is disabled
	prefix   string
	logger   *slog.Logger
}

// NewTreasuryHandler creates a TreasuryHandler. reports may be nil.
func NewTreasuryHandler(treasury *service.Treasury, monitor *service.SolvencyMonitor, reports *s3blob.Reader, prefix string, logger *slog.Logger) *TreasuryHandler {
	return &TreasuryHandler{
		treasury: treasury,
		monitor:  monitor,
		reports:  reports,
		prefix:   prefix,
		logger:   logHandler(logger, "treasury"),
	}
}

// ListFlows returns recorded treasury flows, newest first.
// GET /api/treasury/flows
func (h *TreasuryHandler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.treasury.Flows(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(flows))
	for _, f := range flows {
		entry := map[string]any{
			"id":         f.ID,
			"direction":  string(f.Direction),
			"strategy":   string(f.Strategy),
			"token":      f.Token.Hex(),
			"amount":     f.Amount.String(),
			"account":    f.Account.Hex(),
			"created_at": f.CreatedAt,
		}
		if f.BondID != nil {
			entry["bond_id"] = uint64(*f.BondID)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": out})
}

// reserveRequest carries an unsolicited contribution to the treasury reserve.
type reserveRequest struct {
	Amount string `json:"amount"`
}

// Reserve records a reserve contribution attributed to no bond.
// POST /api/treasury/reserve
func (h *TreasuryHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req reserveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.treasury.ReceiveReserve(r.Context(), caller, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// Solvency produces an on-demand solvency report.
// GET /api/treasury/solvency
func (h *TreasuryHandler) Solvency(w http.ResponseWriter, r *http.Request) {
	report, err := h.monitor.Report(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	holdings := make([]map[string]any, 0, len(report.Holdings))
	for _, hold := range report.Holdings {
		holdings = append(holdings, map[string]any{
			"strategy":   string(hold.Strategy),
			"kind":       string(hold.Kind),
			"token":      hold.Token.Hex(),
			"value_held": hold.ValueHeld.String(),
			"price":      hold.Price.String(),
			"priced_at":  hold.PricedAt,
			"valuation":  hold.Valuation.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at":    report.GeneratedAt,
		"holdings":        holdings,
		"total_valuation": report.TotalValuation.String(),
		"liabilities":     report.Liabilities.String(),
		"reserve":         report.Reserve.String(),
		"solvent":         report.Solvent,
	})
}

// ListReports lists archived solvency reports, optionally filtered by day.
// GET /api/treasury/reports?day=2026-08-30
func (h *TreasuryHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archival is disabled")
		return
	}

	prefix := h.prefix
	if day := r.URL.Query().Get("day"); day != "" {
		t, err := time.Parse("2006-01-02", day)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be formatted YYYY-MM-DD")
			return
		}
		prefix = h.prefix + "/" + t.Format("2006/01/02")
	}

	infos, err := h.reports.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": infos})
}

// GetReport streams one archived report.
// GET /api/treasury/reports/{path...}
func (h *TreasuryHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archival is disabled")
		return
	}

	body, err := h.reports.Get(r.Context(), r.PathValue("path"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.ErrorContext(r.Context(), "streaming report failed",
			slog.String("error", err.Error()),
		)
	}
}
