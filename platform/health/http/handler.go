package http

import (
	"encoding/json"
	"net/http"
)

type status struct {
	Status string `json:"status"`
}

// Handler возвращает handler для /health.
// 200 {"status":"ok"} если readiness не задана или вернула true,
// иначе 503 {"status":"not ready"} (например, PostgreSQL не отвечает на ping).
func Handler(readiness func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if readiness != nil && !readiness() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(status{Status: "not ready"})
			return
		}

		_ = json.NewEncoder(w).Encode(status{Status: "ok"})
	}
}
