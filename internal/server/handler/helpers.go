package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/market"
	"github.com/bitbondlabs/bitbondd/internal/nft"
	"github.com/bitbondlabs/bitbondd/internal/server/middleware"
	"github.com/bitbondlabs/bitbondd/internal/vault"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing more we can do for the client.
		slog.Default().Error("encode response", slog.String("error", err.Error()))
	}
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine sentinel errors onto HTTP status codes and
// writes the response. Unrecognised errors become 500s with a generic body
// so internal detail never leaks to clients.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, vault.ErrNotFound),
		errors.Is(err, market.ErrNotFound),
		errors.Is(err, nft.ErrNotFound),
		errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, vault.ErrUnauthorized),
		errors.Is(err, market.ErrUnauthorized),
		errors.Is(err, nft.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, vault.ErrBadLockPeriod),
		errors.Is(err, vault.ErrAmountTooLarge),
		errors.Is(err, market.ErrBadPrice):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrNotMatured),
		errors.Is(err, vault.ErrTransferFailed),
		errors.Is(err, market.ErrTransferFailed),
		errors.Is(err, market.ErrAlreadyListed),
		errors.Is(err, market.ErrSelfPurchase),
		errors.Is(err, market.ErrBondNotActive):
		status = http.StatusConflict
	default:
		logger.ErrorContext(r.Context(), "handler error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON parses the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathID parses the {id} path segment as a position id.
func pathID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// requireCall builds the call envelope for a mutating request from the
// recovered caller and the current chain height. It writes a 401 and returns
// false when no caller was attached by the signature middleware.
func requireCall(w http.ResponseWriter, r *http.Request, heights domain.HeightSource) (domain.Call, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated caller")
		return domain.Call{}, false
	}
	height, err := heights.Height(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return domain.Call{}, false
	}
	return domain.Call{Caller: caller, Height: height}, true
}
