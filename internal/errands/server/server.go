package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/25x8/campus-errands/internal/errands/config"
	"github.com/25x8/campus-errands/internal/errands/handlers"
	"github.com/25x8/campus-errands/internal/errands/middleware"
	"github.com/25x8/campus-errands/internal/errands/repository"
	"github.com/25x8/campus-errands/internal/errands/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	repo       repository.Repository
	sweeper    *service.BadgeSweeper
	handler    *handlers.Handler
	httpServer *http.Server
}

// NewServer wires the repository, services and handlers. An empty
// DatabaseURI selects the in-memory backend.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var repo repository.Repository
	if cfg.DatabaseURI == "" {
		logger.Warn("no database configured, data is kept in memory")
		repo = repository.NewMemoryRepository()
	} else {
		repo = repository.NewPostgresRepository()
	}
	return New(cfg, repo, logger)
}

// New builds a server over an existing repository
func New(cfg *config.Config, repo repository.Repository, logger *slog.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	catalog, err := service.LoadCatalog(cfg.BadgesFile)
	if err != nil {
		return nil, err
	}

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.NotifyURL != "" {
		notifier = service.NewWebhookNotifier(cfg.NotifyURL)
	}

	policy := service.DefaultPolicy()
	policy.HelperMayCancel = cfg.HelperMayCancel
	policy.AllowRepeatRatings = cfg.AllowRepeatRatings
	policy.Location = loc

	ledger := service.NewLedger(repo)
	badges := service.NewBadgeEvaluator(catalog, repo)
	manager := service.NewManager(repo, ledger, badges, notifier, policy, logger)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		handler: handlers.NewHandler(repo, manager, ledger, badges, cfg.JWTSecret, cfg.LeaderboardSize, logger),
	}
	if cfg.BadgeSweepInterval > 0 {
		s.sweeper = service.NewBadgeSweeper(repo, badges, cfg.BadgeSweepInterval, cfg.LeaderboardSize, logger)
	}
	s.httpServer = &http.Server{
		Addr:    cfg.RunAddress,
		Handler: s.Router(),
	}
	return s, nil
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", s.handler.RegisterUser)
		r.Post("/user/login", s.handler.LoginUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(&middleware.JWTConfig{
				SecretKey: s.cfg.JWTSecret,
				Users:     s.repo,
			}))

			r.Get("/requests", s.handler.ListRequests)
			r.Post("/requests", s.handler.CreateRequest)
			r.Get("/requests/{id}", s.handler.GetRequest)
			r.Delete("/requests/{id}", s.handler.DeleteRequest)
			r.Post("/requests/{id}/rating", s.handler.RateRequest)
			r.Post("/requests/{id}/{action}", s.handler.TransitionRequest)

			r.Get("/user/points", s.handler.GetPoints)
			r.Get("/user/badges", s.handler.GetUserBadges)
			r.Get("/badges", s.handler.ListBadges)
			r.Get("/leaderboard", s.handler.GetLeaderboard)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/users/{id}/suspend", s.handler.SuspendUser)
				r.Post("/points", s.handler.GrantPoints)
			})
		})
	})

	return r
}

// Start opens the repository and starts background work. It must be
// called before Run and from the goroutine that later calls Shutdown.
func (s *Server) Start() error {
	if err := s.repo.InitDB(s.cfg.DatabaseURI); err != nil {
		return err
	}
	if s.sweeper != nil {
		s.sweeper.Start()
	}
	return nil
}

// Run serves HTTP until Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("starting server", "address", s.cfg.RunAddress)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			return err
		}
	}

	return nil
}
