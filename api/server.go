/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through logrus
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a dashboard

ROUTE GROUPS:
  /api/contracts/*      Contract lifecycle and schedule
  /api/payments/*       Payment registration and accrual lookup
  /api/users/*          Rates, notification policy, inbox
  /api/notifications/*  Acknowledgement
  /api/scan/*           Manual scan trigger and run history
  /api/scenarios/*      Demo scenarios
  /healthz              Store ping

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/rentengine/main.go: Server startup
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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Get("/{id}/payments", h.ListContractPayments)
			r.Post("/{id}/close", h.CloseContract)
			r.Get("/{id}/profitability", h.ContractProfitability)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/pay", h.RegisterPayment)
			r.Get("/{id}/accrual", h.GetAccrual)
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/rates", h.GetRates)
			r.Put("/rates", h.PutRates)
			r.Get("/notification-policy", h.GetNotificationPolicy)
			r.Put("/notification-policy", h.PutNotificationPolicy)
			r.Get("/notifications", h.ListNotifications)
		})

		r.Post("/notifications/{id}/read", h.MarkNotificationRead)

		r.Route("/scan", func(r chi.Router) {
			r.Post("/", h.TriggerScan)
			r.Get("/runs", h.ListScanRuns)
		})

		r.Post("/profitability", h.ComputeProfitability)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request with its chi request id.
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
			}).Info("http request")
		})
	}
}
