package httpserver

import (
	"context"
	"net/http"
	"time"

	"db_respawn/internal/targets"
)

type HealthHandler struct {
	Targets *targets.Set
}

type healthResponse struct {
	Status  string            `json:"status"`
	Targets map[string]string `json:"targets"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Targets: make(map[string]string)}
	for _, t := range h.Targets.All() {
		if err := t.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Targets[t.Name()] = "unreachable"
			continue
		}
		resp.Targets[t.Name()] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
