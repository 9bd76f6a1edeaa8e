package journal

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// Source lists recent journal entries, newest first.
type Source interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

const maxRecent = 500

// Handler serves recent entries as JSON. The limit query parameter caps the
// result; it defaults to defaultLimit.
func Handler(src Source, defaultLimit int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		if limit <= 0 || limit > maxRecent {
			limit = maxRecent
		}
		entries, err := src.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []Entry{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Entries []Entry `json:"entries"`
		}{entries})
	})
}
