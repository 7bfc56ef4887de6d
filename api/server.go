/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through logrus
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for till frontends

ROUTE GROUPS:
  /api/sales/*          Sale commits and lookups
  /api/stock/*          Depletion, levels, shelf transfers
  /api/shortages/*      Shortage ledger
  /api/replenish/*      Warehouse and shelf replenishment
  /api/admin/*          Sequence repair
  /api/simulate         Synthetic sales
  /api/scenarios/*      Demo catalogs

SECURITY NOTE:
  No authentication middleware. All endpoints are public; run behind the
  store network.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/possim/serve.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CommitSale)
			r.Post("/batch", h.CommitSaleBatch)
			r.Get("/{id}", h.GetSale)
		})

		r.Route("/stock", func(r chi.Router) {
			r.Post("/deplete", h.Deplete)
			r.Post("/transfer", h.Transfer)
			r.Post("/shelf/prune", h.PruneShelf)
			r.Get("/{tier}", h.StockLevels)
		})

		r.Route("/shortages", func(r chi.Router) {
			r.Get("/", h.ListShortages)
			r.Post("/resolve", h.ResolveShortages)
		})

		r.Route("/replenish", func(r chi.Router) {
			r.Post("/warehouse", h.ReplenishWarehouse)
			r.Post("/warehouse/auto", h.AutoReplenishWarehouse)
			r.Post("/shelf", h.RefillShelf)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sequences/sync", h.SyncSequences)
		})

		r.Post("/simulate", h.Simulate)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Info("request")
		})
	}
}
