package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/observability"
	"github.com/boddenberg/wallet-ledger-go/internal/port"
	"github.com/boddenberg/wallet-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services groups what the router dispatches to. A nil service leaves its
// routes unmounted.
type Services struct {
	Store     port.LedgerStore
	Auth      *service.AuthService
	Accounts  *service.AccountService
	Transfers *service.TransferService
	Payments  *service.PaymentService
	Audit     *service.AuditService
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svcs Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svcs.Store))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		// Gateway callback: authenticated by signature, not by token.
		if svcs.Payments != nil {
			r.Post("/payments/webhook", webhookHandler(svcs.Payments, logger))
		}

		if svcs.Auth == nil {
			return
		}

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authRegisterHandler(svcs.Auth, logger))
			r.Post("/login", authLoginHandler(svcs.Auth, logger))
		})

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svcs.Auth, logger))

			r.Put("/users/pin", setPinHandler(svcs.Auth, logger))

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/balance", balanceHandler(svcs.Accounts, logger))
				r.Get("/transactions", historyHandler(svcs.Accounts, logger))
				r.Get("/audit", auditHandler(svcs.Audit, logger))
				r.Get("/{accountNumber}/name", accountNameHandler(svcs.Accounts, logger))
				r.Post("/transfer", transferHandler(svcs.Transfers, logger))
			})

			r.Route("/payments", func(r chi.Router) {
				r.Post("/initialize", initializePaymentHandler(svcs.Payments, logger))
				r.Get("/verify/{reference}", verifyPaymentHandler(svcs.Payments, logger))
			})
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(store port.LedgerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "wallet-api", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			err := store.Ping(r.Context())
			status := "healthy"
			if err != nil {
				status = "unhealthy"
			}
			services = append(services, domain.ServiceHealth{
				Name: "ledger-store", Status: status,
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overall, code := "healthy", http.StatusOK
		for _, s := range services {
			if s.Status == "unhealthy" {
				overall, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
