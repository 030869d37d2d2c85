//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/api/handlers"
	apimw "github.com/machinarr/machinarr/internal/api/middleware"
	"github.com/machinarr/machinarr/internal/api/ratelimit"
	"github.com/machinarr/machinarr/internal/app"
	"github.com/machinarr/machinarr/internal/config"
	"github.com/machinarr/machinarr/internal/websocket"
)

// Server handles HTTP requests for the Machinarr API.
type Server struct {
	echo    *echo.Echo
	app     *app.App
	hub     *websocket.Hub
	logs    LogsProvider
	cfg     config.ServerConfig
	limiter *ratelimit.AuthLimiter
	logger  zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new API server instance. hub and logs may be nil, which
// disables the websocket and log endpoints.
func NewServer(a *app.App, hub *websocket.Hub, logs LogsProvider, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		app:     a,
		hub:     hub,
		logs:    logs,
		cfg:     cfg,
		limiter: ratelimit.NewAuthLimiter(nil),
		logger:  logger.With().Str("component", "api").Logger(),
		done:    make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Request ID
	s.echo.Use(middleware.RequestID())

	// Security headers
	s.echo.Use(apimw.SecurityHeaders())

	// Request body size limit
	s.echo.Use(middleware.BodyLimit("1M"))

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, apimw.HeaderAPIKey},
	}))

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	// Gzip compression
	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// Skip compression for WebSocket
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	auth := apimw.APIKey(s.cfg.APIKey, s.limiter)

	if s.hub != nil {
		s.echo.GET("/ws", s.hub.HandleWebSocket, auth)
	}

	api := s.echo.Group("/api/v1", auth)
	api.GET("/status", s.getStatus)
	api.GET("/health", s.getHealth)

	searches := api.Group("/searches")
	searches.GET("", s.listSearches)
	searches.GET("/stats", s.getSearchStats)
	searches.GET("/stopped", s.listStoppedItems)
	searches.POST("/cycle", s.runSearchCycle)
	searches.POST("/single", s.searchSingle)

	interventions := api.Group("/interventions")
	interventions.GET("", s.listInterventions)
	interventions.POST("/action", s.applyIntervention)

	queue := api.Group("/queue")
	queue.GET("", s.listStuck)
	queue.GET("/stats", s.getQueueStats)
	queue.POST("/resolve", s.resolveQueue)

	api.POST("/releases/check", s.checkReleases)

	finds := api.Group("/finds")
	finds.GET("", s.listFinds)
	finds.GET("/stats", s.getFindStats)
	finds.GET("/pending", s.listPendingFinds)
	finds.POST("", s.recordFind)

	notifications := api.Group("/notifications")
	notifications.POST("/test", s.testNotification)
	notifications.POST("/flush", s.flushNotifications)

	schedulerHandlers := handlers.NewSchedulerHandler(s.app.Scheduler())
	schedulerHandlers.RegisterRoutes(api.Group("/tasks"))

	if s.logs != nil {
		NewLogsHandlers(s.logs).RegisterRoutes(api.Group("/logs"))
	}
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	go s.cleanupLoop()

	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// cleanupLoop prunes the auth limiter until the server shuts down.
func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.limiter.Cleanup()
		}
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	s.stopOnce.Do(func() { close(s.done) })
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying router, for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
