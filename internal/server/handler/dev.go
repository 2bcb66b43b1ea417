package handler

import (
	"log/slog"
	"net/http"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// DevHandler serves the operator endpoints registered only in dev mode:
// advancing the simulated chain height and funding test accounts.
type DevHandler struct {
	ledger   domain.Ledger
	advancer domain.HeightAdvancer
	logger   *slog.Logger
}

// NewDevHandler creates a DevHandler.
func NewDevHandler(ledger domain.Ledger, advancer domain.HeightAdvancer, logger *slog.Logger) *DevHandler {
	return &DevHandler{
		ledger:   ledger,
		advancer: advancer,
		logger:   logger.With(slog.String("component", "dev_handler")),
	}
}

// Advance moves the chain height forward by the requested number of blocks.
// POST /api/dev/advance
func (h *DevHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Blocks uint64 `json:"blocks"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Blocks == 0 {
		req.Blocks = 1
	}
	height, err := h.advancer.Advance(r.Context(), req.Blocks)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		h.logger.ErrorContext(r.Context(), "height advance failed", slog.String("error", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"height": height})
}

// Fund credits asset or settlement balance to an account.
// POST /api/dev/fund
func (h *DevHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Asset   uint64 `json:"asset"`
		Settle  uint64 `json:"settlement"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := domain.ParsePrincipal(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed account principal")
		return
	}

	err = h.ledger.Update(r.Context(), func(tx domain.Tx) error {
		if req.Asset > 0 {
			if err := tx.CreditAsset(r.Context(), account, domain.Micros(req.Asset)); err != nil {
				return err
			}
		}
		if req.Settle > 0 {
			if err := tx.CreditSettlement(r.Context(), account, domain.Price(req.Settle)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		h.logger.ErrorContext(r.Context(), "funding failed", slog.String("error", err.Error()))
		return
	}

	h.logger.InfoContext(r.Context(), "account funded",
		slog.String("account", account.String()),
		slog.Uint64("asset", req.Asset),
		slog.Uint64("settlement", req.Settle),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"account":    account,
		"asset":      req.Asset,
		"settlement": req.Settle,
	})
}
