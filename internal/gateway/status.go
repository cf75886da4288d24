package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"pagechat/internal/coordinator"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Streams int    `json:"streams"`
	Origins int    `json:"origins"`
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime  float64                   `json:"uptime_seconds"`
	Origins int                       `json:"origins"`
	Streams []coordinator.SessionInfo `json:"streams"`
}

func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if g.status != nil {
			resp.Streams = len(g.status.Active())
		}
		if g.router != nil {
			resp.Origins = g.router.Attached()
		}
		writeJSON(w, resp)
	}
}

func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:  time.Since(g.startedAt).Truncate(time.Second).Seconds(),
			Streams: []coordinator.SessionInfo{},
		}
		if g.status != nil {
			resp.Streams = append(resp.Streams, g.status.Active()...)
		}
		if g.router != nil {
			resp.Origins = g.router.Attached()
		}
		writeJSON(w, resp)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
