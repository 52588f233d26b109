package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/webhooks/config"
	"example.com/backstage/services/webhooks/internal/eventstore"
	"example.com/backstage/services/webhooks/internal/metrics"
	"example.com/backstage/services/webhooks/internal/models"
	"example.com/backstage/services/webhooks/internal/services"
	"example.com/backstage/services/webhooks/internal/tracing"
)

// SignatureVerifier decides whether an inbound delivery carries a
// valid provider signature. The verification scheme itself (HMAC or a
// provider-specific header dance) lives outside this service.
type SignatureVerifier interface {
	Verify(provider models.Provider, payload []byte, headers map[string]string) bool
}

// Server is the HTTP server for the API
type Server struct {
	cfg            config.Config
	router         *gin.Engine
	httpServer     *http.Server
	webhookService *services.WebhookService
	eventStore     eventstore.EventStore
	verifier       SignatureVerifier
	metrics        *metrics.Metrics
}

// NewServer creates a new API server
func NewServer(
	cfg config.Config,
	webhookService *services.WebhookService,
	store eventstore.EventStore,
	verifier SignatureVerifier,
	tracer tracing.Tracer,
	m *metrics.Metrics,
) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		cfg:            cfg,
		router:         gin.New(),
		webhookService: webhookService,
		eventStore:     store,
		verifier:       verifier,
		metrics:        m,
	}

	server.setupMiddleware(tracer)
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware(tracer tracing.Tracer) {
	s.router.Use(RequestIDMiddleware())
	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())

	if tracer != nil {
		if app := tracer.Application(); app != nil {
			s.router.Use(nrgin.Middleware(app))
		}
	}
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	s.router.GET("/metrics", s.getMetrics)

	// Inbound provider callbacks
	s.router.POST("/webhooks/:provider", s.receiveWebhook)

	v1 := s.router.Group("/api/v1")

	webhookRoutes := v1.Group("/webhooks")
	{
		webhookRoutes.GET("", s.listWebhookEvents)
		webhookRoutes.GET("/failures", s.countWebhookFailures)
		webhookRoutes.GET("/:id", s.getWebhookEvent)
		webhookRoutes.POST("/:id/replay", s.replayWebhookEvent)
	}

	eventRoutes := v1.Group("/events")
	{
		eventRoutes.GET("", s.queryEvents)
		eventRoutes.GET("/sequence", s.getCurrentSequence)
		eventRoutes.GET("/:id", s.getEventByID)
	}
}

// getMetrics returns a snapshot of the in-process counters
func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ServerAddress,
		Handler: s.router,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.ServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
