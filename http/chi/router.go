// Package chi mounts the relay API on a Chi router.
// This package is a thin adapter that reuses the stdlib handlers of the
// http package and adds Chi's request id and panic recovery middleware.
package chi

import (
	"log/slog"
	"net/http"

	gochi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/permit-relay/auth"
	"github.com/mark3labs/permit-relay/facilitator"
	httprelay "github.com/mark3labs/permit-relay/http"
)

// Config holds the router configuration.
type Config struct {
	// Logger is used for request logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Auth, if set, requires bearer tokens on the payment routes.
	Auth *auth.Authenticator
}

// NewRouter returns a Chi router serving the relay API plus GET /healthz.
//
// Example usage:
//
//	r := chi.NewRouter(relay, chi.Config{Logger: logger})
//	r.Handle("/metrics", metrics.Handler(registry))
//	http.ListenAndServe(":8080", r)
func NewRouter(relay facilitator.Interface, cfg Config) gochi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := httprelay.NewHandler(relay, logger)

	r := gochi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httprelay.Logging(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r gochi.Router) {
		if cfg.Auth != nil {
			r.Use(auth.Middleware(cfg.Auth, auth.ScopeWrite, logger))
		}
		r.Post(httprelay.PaymentsPath, h.Submit)
	})

	r.Group(func(r gochi.Router) {
		if cfg.Auth != nil {
			r.Use(auth.Middleware(cfg.Auth, auth.ScopeRead, logger))
		}
		r.Get(httprelay.StatusPath, func(w http.ResponseWriter, r *http.Request) {
			h.Status(w, r, gochi.URLParam(r, "requestId"))
		})
	})

	return r
}
