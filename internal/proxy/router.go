package proxy

import (
	"net/http"
	"time"

	"routstr-proxy/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter wires the Handler behind the standard middleware stack (request
// ID, panic recovery, CORS, request logging) and the catch-all routes
// spec.md §6 describes: every path under /v1, plus a bare catch-all for
// clients that omit the prefix, forwards through the same pipeline.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Cashu"},
		ExposedHeaders:   []string{"X-Cashu"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(loggingMiddleware(logger.Log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/v1/*", h)
	r.Handle("/*", h)

	return r
}

// loggingMiddleware logs one line per request, in the teacher's shape, but
// never wraps a Recoverer-handled response writer with a buffering
// timeout -- streaming responses can run far longer than an ordinary
// request and must not be cut off by a fixed deadline (spec.md §4.G).
func loggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
