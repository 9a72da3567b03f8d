package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"voyaj-api/internal/auth"
	"voyaj-api/internal/cache"
	"voyaj-api/internal/observability"
)

// CleanupHandler is the cron entrypoint: it purges soft-deleted accounts past
// retention and reports cache health. Disabled entirely when no cron secret is
// configured.
type CleanupHandler struct {
	repo          *auth.Repository
	store         *cache.Cache
	logger        *observability.Logger
	cronSecret    string
	userRetention time.Duration
	batchSize     int
}

func NewCleanupHandler(
	repo *auth.Repository,
	store *cache.Cache,
	logger *observability.Logger,
	cronSecret string,
	userRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		repo:          repo,
		store:         store,
		logger:        logger,
		cronSecret:    strings.TrimSpace(cronSecret),
		userRetention: userRetention,
		batchSize:     batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := time.Now().UTC().Add(-h.userRetention)
	purged, err := h.repo.PurgeDeletedBefore(r.Context(), cutoff, h.batchSize)
	if err != nil {
		h.logger.Error("maintenance_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	stats := h.store.Stats()
	h.logger.Info("maintenance_cleanup_completed", map[string]any{
		"purged_users":  purged,
		"cache_entries": stats.Entries,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"purged_users": purged,
		"cache":        stats,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
