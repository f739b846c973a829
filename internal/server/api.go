package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nftseason/notifyd/internal/config"
	apierrors "github.com/nftseason/notifyd/internal/errors"
	"github.com/nftseason/notifyd/internal/logging"
	"github.com/nftseason/notifyd/internal/middleware"
	"github.com/nftseason/notifyd/internal/models"
	"github.com/nftseason/notifyd/internal/monitoring"
	"github.com/nftseason/notifyd/internal/notify"
	"github.com/nftseason/notifyd/internal/store"
	"github.com/redis/go-redis/v9"
)

// SubscriberStore is the storage surface the API server needs. *store.Store
// implements it; tests substitute fakes.
type SubscriberStore interface {
	EnsureSchema(ctx context.Context) error
	RecordEvent(ctx context.Context, raw store.RawEnvelope, decodedHeader, decodedPayload json.RawMessage) error
	UpsertEnabled(ctx context.Context, fid, appFID int64, token, notificationURL string, observedAt time.Time) (bool, error)
	UpsertDisabled(ctx context.Context, fid, appFID int64, observedAt time.Time) (bool, error)
	GetSubscriber(ctx context.Context, fid, appFID int64) (*models.Subscriber, error)
	MarkWelcomeSent(ctx context.Context, fid, appFID int64, token string, sentAt time.Time) error
	ListEnabledSubscribers(ctx context.Context, appFID *int64) ([]models.Subscriber, error)
	PruneInvalidTokens(ctx context.Context, tokens []string) (int64, error)
	CountSubscribers(ctx context.Context) (total, enabled int64, err error)
}

// APIServer represents the public API server
type APIServer struct {
	config     *config.Config
	router     *gin.Engine
	store      SubscriberStore
	dispatcher *notify.Dispatcher
	rdb        *redis.Client
}

// NewAPIServer creates a new API server instance. rdb may be nil; the
// broadcast lock is then skipped.
func NewAPIServer(cfg *config.Config, st SubscriberStore, dispatcher *notify.Dispatcher, rdb *redis.Client) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:     cfg,
		router:     router,
		store:      st,
		dispatcher: dispatcher,
		rdb:        rdb,
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// The Farcaster sender retries on non-2xx, so every route that exists
	// answers 405 (not 404) on a wrong method.
	s.router.NoMethod(func(c *gin.Context) {
		respondError(c, apierrors.ErrMethodNotAllowedError)
	})

	s.router.GET("/health", s.healthCheck)

	api := s.router.Group("/api")
	{
		api.GET("/ping", s.handlePing)

		api.POST("/farcaster/webhook", s.handleWebhook)

		// Admin routes (bearer token)
		admin := api.Group("/notify")
		admin.Use(middleware.RequireAdmin(s.config.Admin.Token))
		{
			admin.POST("/broadcast", s.handleBroadcast)
			admin.POST("/stats", s.handleStats)
		}
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "notifyd",
	})
}

// handlePing is an unauthenticated reachability probe
func (s *APIServer) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":  true,
		"now": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStats returns subscriber counts for admin tooling
func (s *APIServer) handleStats(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.store.EnsureSchema(ctx); err != nil {
		respondError(c, apierrors.ErrInternalError)
		return
	}

	total, enabled, err := s.store.CountSubscribers(ctx)
	if err != nil {
		respondError(c, apierrors.ErrInternalError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"total":   total,
		"enabled": enabled,
	})
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, err.Response())
}
