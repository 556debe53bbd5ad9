package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(h *Handler) http.Handler {
	router := chi.NewRouter()

	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		h.requestLogger,
		middleware.Recoverer,
	)

	router.Get("/health", h.Health)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", h.DependencyHealth)
		r.Get("/orders", h.ListOrders)
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{order_id}", h.GetOrder)
		r.Get("/stats", h.Stats)
	})

	return router
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		durMs := msSince(start)
		h.metrics.ObserveHTTP(r.Method, route, ww.Status(), durMs)
		h.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Float64("duration_ms", durMs),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
