package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// defaultSnapshotPrefix scopes listing to the archiver's export tree.
const defaultSnapshotPrefix = "archive/"

// ArchiveHandler serves read access to the blob archive so operators can
// audit and replay the NDJSON snapshots the archiver exports.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logger.With(slog.String("component", "archive_handler")),
	}
}

// ListSnapshots enumerates archived snapshots under a key prefix.
// GET /api/archive/snapshots?prefix=archive/sales/
func (h *ArchiveHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = defaultSnapshotPrefix
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeEngineError(w, h.logger, r, err)
		return
	}

	snapshots := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		snapshots = append(snapshots, map[string]any{
			"path":          info.Path,
			"size":          info.Size,
			"last_modified": info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// GetSnapshot streams one archived snapshot body.
// GET /api/archive/snapshots/{key...}
func (h *ArchiveHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		writeEngineError(w, h.logger, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.ErrorContext(r.Context(), "stream snapshot",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
