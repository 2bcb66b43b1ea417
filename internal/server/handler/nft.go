package handler

import (
	"log/slog"
	"net/http"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/nft"
)

// NFTHandler serves the bond certificate endpoints.
type NFTHandler struct {
	registry *nft.Registry
	heights  domain.HeightSource
	logger   *slog.Logger
}

// NewNFTHandler creates an NFTHandler.
func NewNFTHandler(registry *nft.Registry, heights domain.HeightSource, logger *slog.Logger) *NFTHandler {
	return &NFTHandler{
		registry: registry,
		heights:  heights,
		logger:   logger.With(slog.String("component", "nft_handler")),
	}
}

// GetOwner returns the current certificate holder. Unknown ids resolve to
// owner null rather than an error, matching the registry read semantics.
// GET /api/nft/{id}/owner
func (h *NFTHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, ok, err := h.registry.GetOwner(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	resp := map[string]any{"position_id": id, "owner": nil}
	if ok {
		resp["owner"] = owner
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTokenURI returns the certificate metadata URI, or null for unknown ids.
// GET /api/nft/{id}/uri
func (h *NFTHandler) GetTokenURI(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	uri, ok, err := h.registry.GetTokenURI(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	resp := map[string]any{"position_id": id, "token_uri": nil}
	if ok {
		resp["token_uri"] = uri
	}
	writeJSON(w, http.StatusOK, resp)
}

// Transfer moves a certificate from the caller to another principal. Only the
// current holder may transfer, and the declared sender must match the holder.
// POST /api/nft/{id}/transfer
func (h *NFTHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := domain.ParsePrincipal(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed from principal")
		return
	}
	to, err := domain.ParsePrincipal(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed to principal")
		return
	}
	call, ok := requireCall(w, r, h.heights)
	if !ok {
		return
	}

	if err := h.registry.Transfer(r.Context(), call, id, from, to); err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position_id": id,
		"holder":      to,
	})
}
