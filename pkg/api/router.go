package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter assembles the front-door routes. jwtSecret == "" disables
// authentication.
func NewRouter(h *Handler, jwtSecret string, log zerolog.Logger) http.Handler {
	if jwtSecret == "" {
		log.Warn().Msg("JWT secret not set. Authentication disabled.")
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(Auth(jwtSecret))
		r.Post("/generate", h.Generate)
		r.Delete("/tasks/{taskID}/cancel", h.Cancel)
		r.Get("/stats", h.Stats)
	})

	return r
}

// requestLogger logs every request with method, path, status and duration.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request")
		})
	}
}
