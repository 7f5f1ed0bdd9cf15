package handlers

import (
	"net/http"
	"time"

	"coffeeshop/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterOptions struct {
	CORSOrigins []string
	Version     string
	Logger      *zap.Logger
}

func NewRouter(h *HubHandler, opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(metrics.HTTPMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Location", "Allow"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Coffeeshop-Version", opts.Version)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	RegisterHubRoutes(r, h)
	return r
}

func RegisterHubRoutes(r chi.Router, h *HubHandler) {
	r.Route("/channels", func(r chi.Router) {
		r.Get("/", h.ListChannels)
		r.Post("/", h.CreateChannel)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetChannel)
			r.Post("/", h.Publish)
			r.Delete("/", h.DeleteChannel)

			r.Get("/subscribers", h.ListChannelSubscribers)
			r.Post("/subscribers", h.CreateSubscriber)
			r.Get("/subscribers/{sid}", h.GetSubscriber)
			r.Delete("/subscribers/{sid}", h.DeleteSubscriber)
			r.Get("/subscribers/{sid}/deliveries", h.ListSubscriberDeliveries)

			r.Get("/messages", h.ListMessages)
			r.Get("/messages/{mid}", h.GetMessage)
		})
	})
	r.Get("/subscribers", h.ListSubscribers)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
