package server

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mapstash/mapstash/internal/port"
)

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	store   Store
	journal port.Journal
	logger  *zap.Logger
}

// NewDebugHandler creates a new DebugHandler
func NewDebugHandler(store Store, journal port.Journal, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		store:   store,
		journal: journal,
		logger:  logger,
	}
}

// HandleJournal handles download journal requests: GET /debug/journal?limit=50
func (h *DebugHandler) HandleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit: "+raw, http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(limit)
	if err != nil {
		h.logger.Error("failed to read journal", zap.Error(err))
		http.Error(w, "Failed to read journal", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

// HandleStats handles debug statistics requests: GET /debug/stats
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.journal.Stats()
	if err != nil {
		h.logger.Error("failed to get journal stats", zap.Error(err))
		http.Error(w, "Failed to get journal stats", http.StatusInternalServerError)
		return
	}

	disk, err := h.store.DiskUsage()
	if err != nil {
		h.logger.Error("failed to get disk usage", zap.Error(err))
		http.Error(w, "Failed to get disk usage", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"journal": stats,
		"disk":    disk,
	})
}
