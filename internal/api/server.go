package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zj793039327/jBrowserDriver/internal/proxy"
	"github.com/zj793039327/jBrowserDriver/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(profileHandler *ProfileHandler, streamServer *proxy.Server, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Session endpoints (rate limited)
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter, h.projectOf))

	rateLimitedAPI.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	rateLimitedAPI.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	rateLimitedAPI.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	rateLimitedAPI.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	rateLimitedAPI.HandleFunc("/sessions/{id}/commands", h.SessionCommand).Methods("POST")
	rateLimitedAPI.HandleFunc("/sessions/{id}/navigate", h.NavigateSession).Methods("POST")
	rateLimitedAPI.HandleFunc("/sessions/{id}/reset", h.ResetSession).Methods("POST")

	// Screenshot endpoint (not rate limited - frequent polling)
	api.HandleFunc("/sessions/{id}/screenshot", h.GetSessionScreenshot).Methods("GET")

	// Command stream (not rate limited, one connection carries many commands)
	api.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		streamServer.HandleCommandStream(w, r, mux.Vars(r)["id"])
	}).Methods("GET")

	// Profile endpoints (not rate limited)
	api.HandleFunc("/profiles", profileHandler.CreateProfile).Methods("POST")
	api.HandleFunc("/profiles/{id}", profileHandler.GetProfile).Methods("GET")
	api.HandleFunc("/profiles/{id}", profileHandler.DeleteProfile).Methods("DELETE")

	api.HandleFunc("/projects/{id}/usage", h.ProjectUsage).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")

	// preflight requests for any path, answered by corsMiddleware
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r.Use(loggingMiddleware(h.log))
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Project-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
