package handler

import (
	"log/slog"
	"net/http"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/market"
	"github.com/bitbondlabs/bitbondd/internal/service"
)

// MarketHandler serves the secondary-market endpoints: listings, purchases,
// price suggestions, and the combined statistics snapshot.
type MarketHandler struct {
	market  *market.Engine
	heights domain.HeightSource
	stats   *service.StatsService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. stats may be nil, in which case
// the stats endpoint is still served but uncached.
func NewMarketHandler(m *market.Engine, heights domain.HeightSource, stats *service.StatsService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		market:  m,
		heights: heights,
		stats:   stats,
		logger:  logger.With(slog.String("component", "market_handler")),
	}
}

// ListListings returns all active listings.
// GET /api/listings
func (h *MarketHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.market.Listings(r.Context())
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetListing returns a single listing.
// GET /api/listings/{id}
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	listing, err := h.market.GetListing(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// CreateListing escrows the caller's certificate and lists the bond for sale.
// POST /api/listings
func (h *MarketHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID uint64 `json:"position_id"`
		Price      uint64 `json:"price"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := requireCall(w, r, h.heights)
	if !ok {
		return
	}

	listing, err := h.market.ListBond(r.Context(), call, req.PositionID, domain.Price(req.Price))
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	h.invalidateStats(r)
	writeJSON(w, http.StatusCreated, listing)
}

// CancelListing returns the escrowed certificate to the seller and removes
// the listing.
// DELETE /api/listings/{id}
func (h *MarketHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := requireCall(w, r, h.heights)
	if !ok {
		return
	}

	if err := h.market.CancelListing(r.Context(), call, id); err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	h.invalidateStats(r)
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "cancelled": true})
}

// UpdatePrice changes the asking price of the caller's listing.
// PUT /api/listings/{id}/price
func (h *MarketHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Price uint64 `json:"price"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := requireCall(w, r, h.heights)
	if !ok {
		return
	}

	if err := h.market.UpdatePrice(r.Context(), call, id, domain.Price(req.Price)); err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "price": req.Price})
}

// BuyListing settles a purchase: payment to the seller, protocol fee to the
// treasury, certificate to the buyer.
// POST /api/listings/{id}/buy
func (h *MarketHandler) BuyListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := requireCall(w, r, h.heights)
	if !ok {
		return
	}

	sale, err := h.market.BuyBond(r.Context(), call, id)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	h.invalidateStats(r)
	writeJSON(w, http.StatusOK, sale)
}

// GetSuggestedPrice returns the fair-value quote for a position at the
// current height: principal plus yield accrued pro rata, floored at
// principal.
// GET /api/listings/{id}/suggested-price
func (h *MarketHandler) GetSuggestedPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	height, err := h.heights.Height(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	price, err := h.market.CalculateSuggestedPrice(r.Context(), id, height)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position_id":     id,
		"suggested_price": price,
		"height":          height,
	})
}

// GetStats returns the combined marketplace and vault snapshot.
// GET /api/marketplace/stats
func (h *MarketHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.stats != nil {
		snap, err := h.stats.Snapshot(r.Context())
		if err != nil {
			writeEngineError(w, h.logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	marketStats, activeListings, err := h.market.Stats(r.Context())
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_listings": activeListings,
		"market":          marketStats,
	})
}

func (h *MarketHandler) invalidateStats(r *http.Request) {
	if h.stats != nil {
		h.stats.Invalidate(r.Context())
	}
}
