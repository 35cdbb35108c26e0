package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Post("/poll", s.handlePoll)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/temperature", s.handleSetTemperature)
				r.Put("/recirculation", s.handleSetRecirculation)
				r.Post("/maintenance", s.handleRefreshMaintenance)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status and the outcome of the
// last poll cycle.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"devices":        s.registry.Count(),
	}

	last, err := s.poller.LastPoll()
	if !last.IsZero() {
		resp["last_poll"] = last
	}
	if err != nil {
		resp["status"] = "degraded"
		resp["last_poll_error"] = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStats returns registry and WebSocket statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":          s.registry.GetStats(),
		"websocket_clients": s.hub.ClientCount(),
	})
}

// handlePoll runs a throttled poll cycle and waits for its result.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	select {
	case err := <-s.poller.Poll():
		if err != nil {
			writeCommandError(w, err)
			return
		}
	case <-r.Context().Done():
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": s.registry.Count(),
	})
}
