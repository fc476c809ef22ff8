package patient

import (
	"net/http"
	"time"

	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

// CacheHandler exposes the administrative cache endpoints.
type CacheHandler struct {
	cache  RecordCache
	logger *logging.Logger
	now    func() time.Time
}

func NewCacheHandler(cache RecordCache, logger *logging.Logger) *CacheHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CacheHandler{cache: cache, logger: logger, now: time.Now}
}

type clearResponse struct {
	Status         string `json:"status"`
	EntriesCleared int    `json:"entries_cleared"`
	Timestamp      string `json:"timestamp"`
}

type statsResponse struct {
	CacheStats
	Timestamp string `json:"timestamp"`
}

// Clear handles POST /cache/clear.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.Clear(r.Context())
	if err != nil {
		h.logger.Error("error clearing cache", "error", err)
		writeJSON(w, h.logger, http.StatusInternalServerError, map[string]string{"error": "Internal server error: " + err.Error()})
		return
	}
	h.logger.Info("cleared patient cache", "entries", n)
	writeJSON(w, h.logger, http.StatusOK, clearResponse{
		Status:         "cache_cleared",
		EntriesCleared: n,
		Timestamp:      h.now().Format(time.RFC3339),
	})
}

// Stats handles GET /cache/stats.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("error getting cache stats", "error", err)
		writeJSON(w, h.logger, http.StatusInternalServerError, map[string]string{"error": "Internal server error: " + err.Error()})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, statsResponse{
		CacheStats: stats,
		Timestamp:  h.now().Format(time.RFC3339),
	})
}
