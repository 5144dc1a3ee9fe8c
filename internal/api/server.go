// Package api exposes the reconciliation runner and the alias decisions over
// HTTP.
//
// Routes are scoped by tenant:
//
//	POST /api/v1/tenants/:tenantID/reconciliations            rows in, batch out
//	POST /api/v1/tenants/:tenantID/reconciliations/upload     statement file in, batch out
//	POST /api/v1/tenants/:tenantID/reconciliations/decisions  replay review decisions
//	POST /api/v1/tenants/:tenantID/aliases/confirm
//	POST /api/v1/tenants/:tenantID/aliases/reassign
//	POST /api/v1/tenants/:tenantID/aliases/reject
//	POST /api/v1/tenants/:tenantID/aliases/seed
//	GET  /api/v1/tenants/:tenantID/aliases
//	PUT  /api/v1/tenants/:tenantID/roster
//	GET  /health
//
// Business outcomes are never errors: a conflicting confirmation answers 409
// with the account the key already points at, and the store is left as it
// was. Alias store or roster failures answer 503.
package api

import (
	"context"
	"net/http"
	"time"

	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Config holds the HTTP server settings.
type Config struct {
	ListenAddr      string        `json:"listen_addr" yaml:"listen_addr"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxUploadBytes caps statement uploads.
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadBytes:  32 << 20,
	}
}

// Validate checks the server configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "listen-addr", "", nil)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "timeouts", c, nil).
			WithSuggestion("timeouts cannot be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_upload_bytes", c.MaxUploadBytes, nil)
	}
	return nil
}

// Server serves the HTTP API.
type Server struct {
	runner  *reconciler.Runner
	aliases storage.AliasStore
	rosters storage.RosterWriter
	config  *Config
	logger  logger.Logger
	router  *gin.Engine
}

// NewServer wires the handlers. rosters may be nil, which disables the
// roster upload route.
func NewServer(runner *reconciler.Runner, aliases storage.AliasStore, rosters storage.RosterWriter, config *Config, log logger.Logger) (*Server, error) {
	if runner == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "runner", nil, nil)
	}
	if aliases == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "aliases", nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	s := &Server{
		runner:  runner,
		aliases: aliases,
		rosters: rosters,
		config:  config,
		logger:  log.WithComponent("api"),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the gin engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(s.logger))
	router.Use(cors.New(s.corsConfig()))

	router.GET("/health", s.health)

	tenants := router.Group("/api/v1/tenants/:tenantID")
	tenants.Use(requireTenant())
	{
		tenants.POST("/reconciliations", s.reconcile)
		tenants.POST("/reconciliations/upload", s.reconcileUpload)
		tenants.POST("/reconciliations/decisions", s.applyDecisions)

		tenants.GET("/aliases", s.listAliases)
		tenants.POST("/aliases/confirm", s.confirm)
		tenants.POST("/aliases/reassign", s.reassign)
		tenants.POST("/aliases/reject", s.reject)
		tenants.POST("/aliases/seed", s.seed)

		tenants.PUT("/roster", s.replaceRoster)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "route not found"}})
	})
	return router
}

func (s *Server) corsConfig() cors.Config {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range s.config.AllowedOrigins {
		if origin == "*" {
			config.AllowAllOrigins = true
			return config
		}
	}
	if len(s.config.AllowedOrigins) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = s.config.AllowedOrigins
	return config
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.WithField("listen_addr", s.config.ListenAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.InternalError(errors.CodeUnexpectedError, "listen", err).
				WithContext("listen_addr", s.config.ListenAddr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
