// Package httpapi публикует оформление заказов по HTTP/JSON рядом с gRPC
// и служебные эндпоинты (/metrics, /healthz, /livez, /readyz).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
)

const defaultRequestTimeout = 30 * time.Second

// OrderCreator оформляет заказ.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req ordering.CreateOrderRequest) (domain.Order, error)
}

// Config описывает зависимости роутера.
type Config struct {
	Creator OrderCreator
	Orders  domain.OrderRepository
	Health  *health.Handler
	// Metrics по умолчанию promhttp.Handler().
	Metrics        http.Handler
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *log.Entry
}

// NewRouter собирает chi-роутер с API заказов и служебными маршрутами.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	h := &handlers{creator: cfg.Creator, orders: cfg.Orders, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", metricsHandler)
	r.Get("/livez", health.LivenessHandler)
	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.ServeHTTP)
		r.Get("/readyz", cfg.Health.ReadinessHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(timeout))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Post("/orders", h.createOrder)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Get("/customers/{customerID}/orders", h.listOrders)
	})

	return r
}

// requestLogger пишет по строке logrus на каждый запрос.
func requestLogger(logger *log.Entry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  chimiddleware.GetReqID(r.Context()),
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("http request")
				return
			}
			entry.Debug("http request")
		})
	}
}
