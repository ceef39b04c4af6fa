package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/postfeed/docs"
	"github.com/darkden-lab/postfeed/internal/config"
	"github.com/darkden-lab/postfeed/internal/graph"
	mw "github.com/darkden-lab/postfeed/internal/middleware"
	"github.com/darkden-lab/postfeed/internal/ws"
)

// newRouter wires every HTTP route. CORS wraps the entire router so OPTIONS
// preflight requests are handled before mux routing.
func newRouter(cfg *config.Config, engine *graph.Engine, manager *ws.Manager) http.Handler {
	r := mux.NewRouter()

	r.Use(mw.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

	// Health check
	r.HandleFunc("/healthz", healthzHandler).Methods("GET")

	// Schema and playground
	docs.RegisterRoutes(r)

	// WebSocket upgrade first: it shares GET /graphql with queries.
	manager.RegisterRoutes(r)
	graph.NewHandlers(engine).RegisterRoutes(r)

	return mw.CORS(ws.ParseOrigins(cfg.AllowedOrigins))(r)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
