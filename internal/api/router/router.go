package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/restaurant-chatbot/internal/conversation"
	httpmiddleware "github.com/wolfman30/restaurant-chatbot/internal/http/middleware"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck checks one backing dependency.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// HealthChecks are reported by /health; a failing check turns it 503.
	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if h := cfg.ConversationHandler; h != nil {
		r.Route("/v1", func(v1 chi.Router) {
			v1.Use(middleware.AllowContentType("application/json"))
			v1.Route("/chat", func(chat chi.Router) {
				chat.Post("/messages", h.Message)
				chat.Post("/feedback", h.Feedback)
				chat.Post("/rooms/{roomID}/close", h.CloseRoom)
			})
			v1.Route("/restaurants/{restaurantID}", func(rest chi.Router) {
				rest.Get("/escalations/stats", h.EscalationStats)
				rest.Get("/escalations/pending", h.PendingEscalations)
				rest.Get("/dishes/{dishID}/similar", h.SimilarDishes)
			})
			v1.Post("/escalations/{escalationID}/resolve", h.ResolveEscalation)
		})
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
