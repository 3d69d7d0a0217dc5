package web

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/makt28/mandown/internal/config"
)

// Deps are the collaborators the HTTP surface is built from. Webhook and
// Metrics may be nil, which leaves their routes unregistered.
type Deps struct {
	Config  *config.Manager
	Sites   SiteLister
	Poller  Poller
	Webhook http.Handler
	Metrics http.Handler
	Version string
	Logger  *slog.Logger
}

// NewRouter sets up all routes and returns the http.Handler. The admin API
// is only mounted when an admin password hash is configured.
func NewRouter(d Deps, stopCh <-chan struct{}) http.Handler {
	cfg := d.Config.Get()
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", NewHealthHandler(d.Config, d.Sites, d.Version).ServeHTTP)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Webhook != nil {
		r.Method(http.MethodPost, "/hook", d.Webhook)
	}

	if cfg.Admin.PasswordHash != "" {
		lockout := NewLockout(cfg.Admin.MaxLoginAttempts, cfg.Admin.LockoutDuration, stopCh)
		admin := NewAdminHandlers(d.Sites, d.Poller)

		r.Group(func(r chi.Router) {
			r.Use(BasicAuth(d.Config, lockout, logger))

			r.Get("/api/sites", admin.ListSites)
			r.Post("/api/poll", admin.TriggerPoll)
		})
	} else {
		logger.Info("admin API disabled, no admin.password_hash configured")
	}

	return r
}
