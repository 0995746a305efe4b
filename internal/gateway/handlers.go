package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/soyeahso/easiwork/internal/version"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Subscribers int    `json:"subscribers"`
	Streams     int    `json:"streams"`
	Uptime      string `json:"uptime,omitempty"`
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{sessionID}", s.handleSubscribe)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Version:     version.Version,
		Subscribers: s.subs.Count(),
		Streams:     s.Streams(),
	}
	if up := s.uptime(); up > 0 {
		resp.Uptime = up.Round(time.Second).String()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}
