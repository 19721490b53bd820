package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors from the service layer onto HTTP
// status codes and writes the JSON error body.
//
//	validation        -> 400
//	authorization     -> 403
//	missing resources -> 404
//	sequencing        -> 409
//	not finalized     -> 425 Too Early
//	backend failures  -> 502
func writeDomainError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidArrayLength),
		errors.Is(err, domain.ErrZeroAddress),
		errors.Is(err, domain.ErrEmptyStrategyList),
		errors.Is(err, domain.ErrMaturityNotSupported),
		errors.Is(err, domain.ErrTokenNotAllowed),
		errors.Is(err, domain.ErrStrategyNotApproved):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAdmin),
		errors.Is(err, domain.ErrNotAuthorized),
		errors.Is(err, domain.ErrNotBondOwner):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNoSuchBond),
		errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrBondNotMatured),
		errors.Is(err, domain.ErrAlreadyRequested),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrLockHeld):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrSettlementNotFinalized):
		status = http.StatusTooEarly
	case errors.Is(err, domain.ErrBackendInconsistency):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	writeError(w, status, err.Error())
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathBondID extracts and parses the {id} path parameter.
func pathBondID(r *http.Request) (domain.BondID, error) {
	raw := r.PathValue("id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bond id %q", raw)
	}
	return domain.BondID(n), nil
}

// parseAddress validates a hex address field.
func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: %q is not a valid address", field, value)
	}
	return common.HexToAddress(value), nil
}

// parseAmount parses a decimal big integer field.
func parseAmount(field, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%s: %q is not a valid decimal amount", field, value)
	}
	return n, nil
}

// callerAddress resolves the acting account for a request. Mutating requests
// carry the account in the X-Account header; the auth middleware has already
// authenticated the API key by the time a handler runs.
func callerAddress(r *http.Request) (common.Address, error) {
	raw := r.Header.Get("X-Account")
	if raw == "" {
		return common.Address{}, errors.New("missing X-Account header")
	}
	return parseAddress("X-Account", raw)
}

// decodeBody decodes the request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
