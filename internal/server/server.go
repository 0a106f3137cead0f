// Package server
//
// @title Campus Portal API
// @version 1.0
// @description Role-based college portal: pages rendered as JSON payloads plus the API used by the CLI
// @host localhost:8080
// @BasePath /
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/activities"
	"github.com/campusdesk/portal/internal/assignments"
	"github.com/campusdesk/portal/internal/auth"
	"github.com/campusdesk/portal/internal/calendar"
	"github.com/campusdesk/portal/internal/config"
	"github.com/campusdesk/portal/internal/dashboard"
	"github.com/campusdesk/portal/internal/database"
	"github.com/campusdesk/portal/internal/metrics"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/notifications"
	"github.com/campusdesk/portal/internal/platform"
	"github.com/campusdesk/portal/internal/queries"
	"github.com/campusdesk/portal/internal/realtime"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/storage"
	"github.com/campusdesk/portal/internal/sysinfo"
	"github.com/campusdesk/portal/internal/tasks"
	"github.com/campusdesk/portal/internal/users"
)

// Server represents the HTTP server
type Server struct {
	router      *gin.Engine
	db          *gorm.DB
	config      *config.Config
	logger      zerolog.Logger
	validator   *validator.Validate
	asynqClient *asynq.Client
	authService *platform.AuthService
	profiles    *platform.Profiles
	routes      *routes.Table
	pages       map[string]pageHandlers
	hub         realtime.Hub
	files       *storage.FileStore
	metrics     *metrics.Metrics

	assignments   *assignments.Service
	activities    *activities.Service
	queries       *queries.Service
	calendar      *calendar.Service
	notifications *notifications.Service
	users         *users.Service
	dashboard     *dashboard.Service

	// keepaliveInterval paces comment frames on notification streams
	keepaliveInterval time.Duration
	stop              context.CancelFunc
	version           string
}

// Options are the collaborators a Server is assembled from
type Options struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   zerolog.Logger
	Enqueuer tasks.Enqueuer
	Hub      realtime.Hub
	Files    *storage.FileStore
	Metrics  *metrics.Metrics
	Routes   *routes.Table
	Version  string
}

// New creates a new server instance from configuration
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := database.Open(cfg.Database.URL, zlog)
	if err != nil {
		return nil, err
	}

	if cfg.Auth.GeneratedSecret {
		zlog.Warn().Msg("JWT_SECRET is not set, using a random secret; sessions will not survive a restart")
	}

	ctx, stop := context.WithCancel(context.Background())

	m := metrics.New()
	hub, local, err := realtime.FromConfig(ctx, cfg, zlog)
	if err != nil {
		stop()
		return nil, err
	}
	local.OnSubscribersChanged = m.SetSubscribers

	if cfg.Realtime.PostgresURL != "" {
		listener, err := realtime.NewPGListener(cfg.Realtime.PostgresURL, cfg.Realtime.PGChannel, hub, zlog)
		if err != nil {
			stop()
			return nil, err
		}
		go func() {
			if err := listener.Run(ctx); err != nil {
				zlog.Error().Err(err).Msg("Postgres change listener stopped")
			}
		}()
	}

	files, err := storage.NewFileStore(cfg.Storage.Dir, cfg.HTTP.PublicBaseURL, zlog)
	if err != nil {
		stop()
		return nil, err
	}

	// Initialize Asynq client for enqueueing tasks
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.Redis.Address,
	})

	s, err := newServer(Options{
		Config:   cfg,
		DB:       db,
		Logger:   zlog,
		Enqueuer: asynqClient,
		Hub:      hub,
		Files:    files,
		Metrics:  m,
		Routes:   routes.MustDefault(),
		Version:  version,
	})
	if err != nil {
		stop()
		return nil, err
	}
	s.asynqClient = asynqClient
	s.stop = stop

	return s, nil
}

// newServer wires services over already opened collaborators
func newServer(opts Options) (*Server, error) {
	if opts.Routes == nil {
		opts.Routes = routes.MustDefault()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Hub == nil {
		opts.Hub = realtime.NewMemoryHub(opts.Logger)
	}

	if err := realtime.RegisterCallbacks(opts.DB, opts.Hub, opts.Logger, models.TableNotifications); err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := registerValidators(validate); err != nil {
		return nil, err
	}

	dispatch := tasks.NewDispatcher(opts.Enqueuer, opts.Logger)
	authService := platform.NewAuthService(opts.DB, auth.NewTokens(opts.Config.Auth.JWTSecret, opts.Config.Auth.SessionTTL), opts.Logger)

	s := &Server{
		db:                opts.DB,
		config:            opts.Config,
		logger:            opts.Logger,
		validator:         validate,
		authService:       authService,
		profiles:          platform.NewProfiles(opts.DB),
		routes:            opts.Routes,
		hub:               opts.Hub,
		files:             opts.Files,
		metrics:           opts.Metrics,
		assignments:       assignments.NewService(opts.DB, opts.Files, dispatch, opts.Logger),
		activities:        activities.NewService(opts.DB, opts.Files, dispatch, opts.Logger),
		queries:           queries.NewService(opts.DB, dispatch, opts.Logger),
		calendar:          calendar.NewService(opts.DB, opts.Logger),
		notifications:     notifications.NewService(opts.DB, opts.Logger),
		users:             users.NewService(opts.DB, authService, opts.Logger),
		keepaliveInterval: 25 * time.Second,
		version:           opts.Version,
	}
	s.dashboard = dashboard.NewService(dashboard.Deps{
		DB:            opts.DB,
		Assignments:   s.assignments,
		Activities:    s.activities,
		Queries:       s.queries,
		Calendar:      s.calendar,
		Notifications: s.notifications,
		Users:         s.users,
	})

	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() error {
	s.router = gin.New()

	// Add middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	// CORS middleware
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.HTTP.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Location"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check and metrics (no session required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	if s.files != nil {
		s.router.Static(storage.PublicPrefix, s.files.Root)
	}

	api := s.router.Group("/api")
	api.Use(s.sessionMiddleware())
	{
		api.POST("/auth/login", s.apiLogin)
		api.POST("/auth/register", s.apiRegister)
		api.GET("/auth/session", s.apiSession)

		authed := api.Group("")
		authed.Use(requireSession())
		{
			authed.POST("/auth/logout", s.apiLogout)
			authed.POST("/auth/refresh", s.apiRefresh)
			authed.GET("/profiles/:id", s.apiProfile)
			authed.GET("/notifications", s.apiNotifications)
		}
	}

	if err := s.registerPages(); err != nil {
		return err
	}

	s.router.NoRoute(s.sessionMiddleware(), s.noRoute)
	return nil
}

// @Router /health [get]
// @Success 200 {object} map[string]interface{}
func (s *Server) healthCheck(c *gin.Context) {
	resp := gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "portal-api",
		"version":   s.version,
	}
	if s.files != nil {
		system, err := sysinfo.GetMetrics(s.files.Root)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Failed to read system metrics")
		} else {
			resp["system"] = system
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetDB returns the database connection
func (s *Server) GetDB() *gorm.DB {
	return s.db
}

// Start starts the HTTP server and blocks until SIGINT or SIGTERM
func (s *Server) Start() error {
	addr := s.config.HTTP.Addr

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// WriteTimeout is left unset for notification streams
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sigChan:
		s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("HTTP server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Streams end when the hub closes, so close it before waiting on handlers
	if err := s.hub.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing realtime hub")
	}

	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.Close()
	s.logger.Info().Msg("Server shutdown complete")
	return nil
}

// Close releases the queue client, the realtime hub and the database
func (s *Server) Close() {
	if s.stop != nil {
		s.stop()
	}

	if s.asynqClient != nil {
		if err := s.asynqClient.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing Asynq client")
		}
	}

	if err := s.hub.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing realtime hub")
	}

	// Close database connection to flush WAL writes
	if err := database.Close(s.db); err != nil {
		s.logger.Error().Err(err).Msg("Error closing database")
	}
}
