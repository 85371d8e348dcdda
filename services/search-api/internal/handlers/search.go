package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/ingredient-search/services/search-api/internal/cache"
	"github.com/md-rashed-zaman/ingredient-search/services/search-api/internal/query"
)

var defaultTypes = []string{"ingredient", "recipe"}

// Searcher is the slice of the query layer the handler needs.
type Searcher interface {
	Search(ctx context.Context, q string, tenantID string, types []string) ([]query.Item, error)
}

type Handler struct {
	searcher Searcher
	cache    *cache.ResponseCache
	logger   *slog.Logger
}

func New(searcher Searcher, respCache *cache.ResponseCache, logger *slog.Logger) *Handler {
	return &Handler{searcher: searcher, cache: respCache, logger: logger}
}

// Search handles GET /api/v1/search?q=&tenant_id=&site_id=&types=.
// Responses are cached write-through under the normalized request key; a hit
// is returned verbatim. When the index backend is down the caller gets a 503,
// never a silently empty result.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	q := strings.TrimSpace(params.Get("q"))
	tenantID := strings.TrimSpace(params.Get("tenant_id"))
	siteID := strings.TrimSpace(params.Get("site_id"))
	if q == "" || tenantID == "" || siteID == "" {
		http.Error(w, "q, tenant_id and site_id are required", http.StatusBadRequest)
		return
	}
	types := parseTypes(params.Get("types"))

	key := cache.Key(tenantID, siteID, types, q)
	if body, ok := h.cache.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		_, _ = w.Write(body)
		return
	}

	items, err := h.searcher.Search(r.Context(), q, tenantID, types)
	if err != nil {
		if errors.Is(err, query.ErrUnavailable) {
			h.logger.Error("search backend unavailable", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "search unavailable"})
			return
		}
		h.logger.Error("search failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "search failed"})
		return
	}
	if items == nil {
		items = []query.Item{}
	}

	body, err := json.Marshal(map[string]any{
		"q":         q,
		"tenant_id": tenantID,
		"site_id":   siteID,
		"results":   items,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "search failed"})
		return
	}

	h.cache.Set(r.Context(), key, body)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func parseTypes(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultTypes
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultTypes
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
