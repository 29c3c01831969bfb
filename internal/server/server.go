package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"nexus/internal/broadcast"
	"nexus/internal/convex"
	"nexus/internal/llm"
	"nexus/internal/logging"
	"nexus/internal/settings"
)

// ConversationStore is the persistence surface the server needs. Both the
// Convex client and the in-memory store satisfy it.
type ConversationStore interface {
	broadcast.MessageRepository
	CreateConversation(ctx context.Context, title string) (string, error)
	ListConversations(ctx context.Context, limit int, includeArchived bool) ([]convex.Conversation, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]convex.StoredMessage, error)
}

// ClientProvider resolves streaming clients per panel target.
type ClientProvider interface {
	ClientFor(providerID, modelID string) (llm.Client, error)
}

// Config configures the streaming server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	Debug          bool
	ReadTimeout    time.Duration
	// WriteTimeout is left zero by default: SSE responses outlive any
	// reasonable fixed deadline.
	WriteTimeout time.Duration
}

// Server hosts the broadcast streaming API.
type Server struct {
	cfg        Config
	engine     *gin.Engine
	httpServer *http.Server
	store      ConversationStore
	clients    ClientProvider
	settings   *settings.Store
	hub        *Hub
	metrics    *Metrics
	cache      *readCache
	logger     logging.Logger
	startTime  time.Time
}

// New wires the server. store may be nil for a stateless instance; settings
// may be nil to disable the destination management endpoints.
func New(cfg Config, store ConversationStore, clients ClientProvider, settingsStore *settings.Store, logger logging.Logger) *Server {
	logger = logging.OrNop(logger)
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		engine:    engine,
		store:     store,
		clients:   clients,
		settings:  settingsStore,
		hub:       NewHub(logger),
		metrics:   NewMetrics(),
		cache:     newReadCache(readCacheTTL),
		logger:    logger,
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)

	api.POST("/broadcasts/stream", s.handleBroadcastStream)
	api.GET("/broadcasts/watch", func(c *gin.Context) {
		s.hub.HandleWatch(c.Writer, c.Request)
	})

	if s.store != nil {
		conversations := api.Group("/conversations")
		conversations.GET("", s.handleListConversations)
		conversations.POST("", s.handleCreateConversation)
		conversations.GET("/:id/messages", s.handleGetMessages)
	}

	if s.settings != nil {
		destinations := api.Group("/destinations")
		destinations.GET("", s.handleListDestinations)
		destinations.POST("/:id/toggle", s.handleToggleDestination)
		api.PUT("/tiers", s.handleSetTier)
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Server listening on %s", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and disconnects observers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleListConversations(c *gin.Context) {
	includeArchived := c.Query("includeArchived") == "true"
	key := conversationsKey(includeArchived)
	if convs, ok := s.cache.conversations.Get(key); ok {
		c.JSON(http.StatusOK, convs)
		return
	}
	convs, err := s.store.ListConversations(c.Request.Context(), 100, includeArchived)
	if err != nil {
		s.logger.Error("List conversations: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "conversation store unavailable"})
		return
	}
	s.cache.conversations.Add(key, convs)
	c.JSON(http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := s.store.CreateConversation(c.Request.Context(), req.Title)
	if err != nil {
		s.logger.Error("Create conversation: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "conversation store unavailable"})
		return
	}
	s.cache.conversations.Purge()
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleGetMessages(c *gin.Context) {
	id := c.Param("id")
	if msgs, ok := s.cache.messages.Get(id); ok {
		c.JSON(http.StatusOK, msgs)
		return
	}
	msgs, err := s.store.GetMessages(c.Request.Context(), id, 200)
	if err != nil {
		s.logger.Error("Get messages: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "conversation store unavailable"})
		return
	}
	s.cache.messages.Add(id, msgs)
	c.JSON(http.StatusOK, msgs)
}

type destinationView struct {
	settings.Destination
	Enabled bool `json:"enabled"`
}

func (s *Server) handleListDestinations(c *gin.Context) {
	out := make([]destinationView, 0)
	for _, dest := range s.settings.Catalog() {
		out = append(out, destinationView{
			Destination: dest,
			Enabled:     s.settings.IsEnabled(dest.ID),
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleToggleDestination flips one destination. The response always reflects
// the post-call state; a refused toggle (last enabled destination) simply
// echoes the unchanged state.
func (s *Server) handleToggleDestination(c *gin.Context) {
	id := c.Param("id")
	if err := s.settings.ToggleDestination(id); err != nil {
		s.logger.Error("Toggle destination %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings write failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": s.settings.IsEnabled(id)})
}

func (s *Server) handleSetTier(c *gin.Context) {
	var req struct {
		Provider      string `json:"provider"`
		Tier          string `json:"tier"`
		DestinationID string `json:"destinationId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Provider == "" || req.Tier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider and tier are required"})
		return
	}
	if err := s.settings.SetTierDestination(req.Provider, req.Tier, req.DestinationID); err != nil {
		s.logger.Error("Set tier %s/%s: %v", req.Provider, req.Tier, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings write failed"})
		return
	}
	resolved, ok := s.settings.ResolveDestinationForTier(req.Provider, req.Tier)
	c.JSON(http.StatusOK, gin.H{"resolved": resolved, "hasDestination": ok})
}
