package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"db_respawn/internal/config"
	"db_respawn/internal/targets"
)

type Server struct {
	cfg           config.Config
	logger        requestLogger
	targets       *targets.Set
	authn         *AuthMiddleware
	targetHandler *TargetHandler
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// New returns an API server for set. It listens on cfg.HTTPAddress, stores
// plans under cfg.PlanDir and requires cfg.APIToken when one is set.
func New(cfg config.Config, logger requestLogger, set *targets.Set) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		targets:       set,
		authn:         NewAuthMiddleware(cfg.APIToken, logger),
		targetHandler: NewTargetHandler(set, cfg.PlanDir, logger),
	}
}

func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           s.routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	if s.cfg.APIToken == "" {
		s.logger.Error("api_token is not set; the reset API accepts unauthenticated requests")
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(RequestLogger(s.logger))

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", HealthHandler{Targets: s.targets})

		api.Group(func(authenticated chi.Router) {
			authenticated.Use(s.authn.RequireToken)

			authenticated.Get("/plans", s.targetHandler.StoredPlans)
			authenticated.Get("/targets", s.targetHandler.List)
			authenticated.Route("/targets/{name}", func(tr chi.Router) {
				tr.Get("/plan", s.targetHandler.Plan)
				tr.Post("/reset", s.targetHandler.Reset)
				tr.Post("/refresh", s.targetHandler.Refresh)
			})
		})
	})

	return r
}
