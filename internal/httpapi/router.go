package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/kparsons/timehub/internal/gateway"
)

// NewRouter assembles the full HTTP surface: REST routes, the websocket
// endpoint and operational endpoints, wrapped with permissive CORS.
func NewRouter(handler *Handler, manager *gateway.Manager) http.Handler {
	r := chi.NewRouter()

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", handler.CreateSession)
		r.Get("/{id}", handler.GetSession)
		r.Post("/{id}/timers", handler.CreateTimer)
	})

	r.Get("/ws", manager.HandleConnection)

	r.Get("/ws/stats", func(w http.ResponseWriter, req *http.Request) {
		connections, sessions := manager.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"total_connections":%d,"active_sessions":%d}`, connections, sessions)
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(r)
}
