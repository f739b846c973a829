// Package manager serves the localhost-only operator console: subscriber and
// event inspection plus test and broadcast sends. It binds to loopback and
// layers an editor token on top, so a stray port-forward alone is not enough
// to reach it.
package manager

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nftseason/notifyd/internal/config"
	"github.com/nftseason/notifyd/internal/logging"
	"github.com/nftseason/notifyd/internal/middleware"
	"github.com/nftseason/notifyd/internal/models"
	"github.com/nftseason/notifyd/internal/notify"
)

// Store is the storage surface the manager needs.
type Store interface {
	EnsureSchema(ctx context.Context) error
	GetSubscriber(ctx context.Context, fid, appFID int64) (*models.Subscriber, error)
	ListEnabledSubscribers(ctx context.Context, appFID *int64) ([]models.Subscriber, error)
	PruneInvalidTokens(ctx context.Context, tokens []string) (int64, error)
	CountSubscribers(ctx context.Context) (total, enabled int64, err error)
	ListSubscribersPage(ctx context.Context, page, perPage int, enabledOnly bool) ([]models.Subscriber, int64, error)
	ListEventsPage(ctx context.Context, page, perPage int) ([]models.WebhookEvent, int64, error)
}

// Server is the notifications manager HTTP server.
type Server struct {
	config     *config.Config
	router     *gin.Engine
	store      Store
	dispatcher *notify.Dispatcher
}

// New creates the manager server.
func New(cfg *config.Config, st Store, dispatcher *notify.Dispatcher) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger())
	router.Use(middleware.LocalOnly())

	srv := &Server{
		config:     cfg,
		router:     router,
		store:      st,
		dispatcher: dispatcher,
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleConsole)

	allowedOrigins := []string{
		"http://127.0.0.1",
		"http://localhost",
	}

	api := s.router.Group("/api")
	api.Use(middleware.SameOriginOnly(allowedOrigins))
	api.Use(middleware.RequireEditorToken(s.config.Manager.Token, s.config.Manager.NoToken))
	{
		api.GET("/health", s.handleHealth)
		api.GET("/subscribers", s.handleSubscribers)
		api.GET("/events", s.handleEvents)
		api.POST("/send/test", s.handleSendTest)
		api.POST("/send/broadcast", s.handleSendBroadcast)
	}
}

// Manager responses use a fixed envelope so the console JS can treat every
// endpoint uniformly.
func respondResult(c *gin.Context, result any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

func respondError(c *gin.Context, status int, message string, details any) {
	body := gin.H{"ok": false, "error": message}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, body)
}

func (s *Server) handleHealth(c *gin.Context) {
	respondResult(c, gin.H{"status": "healthy", "service": "notifyd-manager"})
}
