package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/peb/internal/api/http"
	"github.com/GriffinCanCode/peb/internal/api/middleware"
	"github.com/GriffinCanCode/peb/internal/api/ws"
	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/infrastructure/logging"
	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/peb/internal/sandbox"
	"github.com/GriffinCanCode/peb/internal/shell"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	shell    *shell.Shell
	hub      *ws.Hub
	env      *sandbox.Environment
	logger   *logging.Logger
	config   *config.Config
	settings *config.Configuration
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer

	quitOnce sync.Once
	quit     chan struct{}
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, settings *config.Configuration, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing peb",
		zap.String("listen", cfg.Server.Listen),
		zap.String("settings", settings.SettingsPath),
		zap.String("root", settings.RootDir),
		zap.String("interpreter", settings.Interpreter),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	env := sandbox.Build(sandbox.Options{
		RootDir:     settings.RootDir,
		AllowList:   settings.AllowedEnv,
		PathEntries: settings.PathEntries,
		LibVar:      settings.LibVar,
		LibPath:     settings.LibPath,
		Interpreter: settings.Interpreter,
		Logger:      logger.Logger,
	})

	highlighter, err := shell.BuildHighlighter(settings, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build highlighter: %w", err)
	}

	hub := ws.NewHub(logger.Named("ws")).WithMetrics(metrics)

	s := &Server{
		hub:      hub,
		env:      env,
		logger:   logger,
		config:   cfg,
		settings: settings,
		metrics:  metrics,
		quit:     make(chan struct{}),
	}

	sh, err := shell.New(shell.Deps{
		Config:      settings,
		Store:       config.NewStore(settings.SettingsPath),
		Env:         env,
		Host:        hub,
		Sink:        hub,
		Highlighter: highlighter,
		Metrics:     metrics,
		Logger:      logger.Logger,
		OnQuit:      s.requestQuit,
	})
	if err != nil {
		return nil, err
	}
	hub.Bind(sh.Windows())
	s.shell = sh

	tracer := tracing.New("peb", logger.Named("trace"))
	s.tracer = tracer

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	// Register routes
	apihttp.NewHandlers(sh, metrics, logger.Logger).Register(router)
	router.GET("/windows/:id/stream", hub.HandleStream)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router = router
	s.http = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully", zap.String("start_url", sh.StartURL()))
	return s, nil
}

// Router exposes the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shell exposes the navigation bridge.
func (s *Server) Shell() *shell.Shell {
	return s.shell
}

// Done is closed when a window issued the quit command.
func (s *Server) Done() <-chan struct{} {
	return s.quit
}

func (s *Server) requestQuit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes every window, cancelling running scripts and debuggers,
// then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.shell.Shutdown(ctx); err != nil {
		s.logger.Warn("Shell shutdown incomplete", zap.Error(err))
		errs = append(errs, err)
	}
	s.hub.Close()
	s.tracer.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
	}

	// Sync logger before exit
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
