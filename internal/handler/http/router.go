package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AdityaBheke/BusyBuy/pkg/health"
	"github.com/AdityaBheke/BusyBuy/pkg/middleware"
)

const serviceName = "busybuy"

// NewRouter creates a chi router with every BusyBuy route registered.
func NewRouter(
	sessions Sessions,
	engine CartEngine,
	co Checkout,
	notes Notifications,
	healthHandler *health.Handler,
	cors middleware.CORSConfig,
	attempts *middleware.AttemptLimiter,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cors))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	sessionHandler := NewSessionHandler(sessions, logger)
	cartHandler := NewCartHandler(engine, notes, logger)
	checkoutHandler := NewCheckoutHandler(engine, co, logger)

	signedIn := middleware.RequireIdentity(func() (string, bool) {
		id := sessions.Current()
		return id.ID, !id.IsZero()
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Group(func(r chi.Router) {
				if attempts != nil {
					r.Use(attempts.Middleware)
				}
				r.Post("/signup", sessionHandler.SignUp)
				r.Post("/signin", sessionHandler.SignIn)
			})
			r.Post("/signout", sessionHandler.SignOut)
		})

		r.Get("/notifications", cartHandler.Notifications)

		r.Group(func(r chi.Router) {
			r.Use(signedIn)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Post("/items", cartHandler.AddItem)
				r.Post("/items/{productId}/increase", cartHandler.IncreaseItem)
				r.Post("/items/{productId}/decrease", cartHandler.DecreaseItem)
				r.Delete("/items/{productId}", cartHandler.RemoveItem)
			})

			r.Post("/checkout", checkoutHandler.Purchase)
			r.Post("/checkout/cleanup", checkoutHandler.Cleanup)
			r.Get("/orders", cartHandler.ListOrders)
		})
	})

	return r
}
