package handlers

import "net/http"

// HealthHandler reports liveness and station counts.
func HealthHandler(registry Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		total, online := registry.Count()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"stations": total,
			"online":   online,
		})
	}
}
