package handler

import (
	"log/slog"
	"net/http"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/service"
	"github.com/bitbondlabs/bitbondd/internal/vault"
)

// BondHandler serves the vault endpoints: bond creation, settlement, and
// position reads.
type BondHandler struct {
	vault   *vault.Engine
	heights domain.HeightSource
	stats   *service.StatsService
	logger  *slog.Logger
}

// NewBondHandler creates a BondHandler. stats may be nil.
func NewBondHandler(v *vault.Engine, heights domain.HeightSource, stats *service.StatsService, logger *slog.Logger) *BondHandler {
	return &BondHandler{
		vault:   v,
		heights: heights,
		stats:   stats,
		logger:  logger.With(slog.String("component", "bond_handler")),
	}
}

// CreateBond locks principal into a new time-locked bond.
// POST /api/bonds
func (h *BondHandler) CreateBond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal  uint64 `json:"principal"`
		LockPeriod uint64 `json:"lock_period"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := requireCall(w, r, h.heights)
	if !ok {
		return
	}

	pos, err := h.vault.CreateBond(r.Context(), call, domain.Micros(req.Principal), domain.LockPeriod(req.LockPeriod))
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	h.invalidateStats(r)
	writeJSON(w, http.StatusCreated, pos)
}

// GetBond returns a single position record.
// GET /api/bonds/{id}
func (h *BondHandler) GetBond(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.vault.GetBondInfo(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListBonds returns the positions held by a principal.
// GET /api/bonds?holder=0x...
func (h *BondHandler) ListBonds(w http.ResponseWriter, r *http.Request) {
	holder, err := domain.ParsePrincipal(r.URL.Query().Get("holder"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "holder query parameter required")
		return
	}
	positions, err := h.vault.PositionsByOwner(r.Context(), holder)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"holder":    holder,
		"positions": positions,
	})
}

// GetYield returns the full-term yield and payout for a position.
// GET /api/bonds/{id}/yield
func (h *BondHandler) GetYield(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.vault.GetBondInfo(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	yield := vault.CalculateYield(pos.Principal, pos.LockPeriod)
	writeJSON(w, http.StatusOK, map[string]any{
		"position_id": pos.ID,
		"principal":   pos.Principal,
		"lock_period": pos.LockPeriod,
		"yield":       yield,
		"payout":      pos.Principal + yield,
	})
}

// WithdrawBond settles a matured bond for principal plus yield.
// POST /api/bonds/{id}/withdraw
func (h *BondHandler) WithdrawBond(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := requireCall(w, r, h.heights)
	if !ok {
		return
	}

	payout, err := h.vault.WithdrawBond(r.Context(), call, id)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	h.invalidateStats(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"position_id": id,
		"payout":      payout,
	})
}

// EarlyExit settles a bond before maturity, forfeiting the penalty to the
// insurance pool.
// POST /api/bonds/{id}/early-exit
func (h *BondHandler) EarlyExit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := requireCall(w, r, h.heights)
	if !ok {
		return
	}

	refund, err := h.vault.EarlyExit(r.Context(), call, id)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	h.invalidateStats(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"position_id": id,
		"refund":      refund,
	})
}

// GetInsurancePool returns the accumulated early-exit penalty balance.
// GET /api/insurance-pool
func (h *BondHandler) GetInsurancePool(w http.ResponseWriter, r *http.Request) {
	balance, err := h.vault.InsurancePoolBalance(r.Context())
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (h *BondHandler) invalidateStats(r *http.Request) {
	if h.stats != nil {
		h.stats.Invalidate(r.Context())
	}
}
