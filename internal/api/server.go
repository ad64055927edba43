package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/internal/engine"
	"github.com/Syklic/basictradingsoftware/internal/events"
	"github.com/Syklic/basictradingsoftware/internal/monitor"
	"github.com/Syklic/basictradingsoftware/pkg/credentials"
)

// Server wires HTTP endpoints around the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Engine    *engine.Engine
	Store     *credentials.Store
	Metrics   *monitor.SystemMetrics
	Logger    *zap.Logger
	JWTSecret string
	Meta      SystemMeta

	admin AdminUser
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	TradingMode string
	Venues      []string
	Symbol      string
	Model       string
	InstanceID  string
	Version     string
	StartedAt   time.Time
}

func NewServer(bus *events.Bus, eng *engine.Engine, store *credentials.Store, metrics *monitor.SystemMetrics, logger *zap.Logger, jwtSecret string, admin AdminUser, meta SystemMeta) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger, metrics))
	r.Use(RateLimitMiddleware(logger))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Engine:    eng,
		Store:     store,
		Metrics:   metrics,
		Logger:    logger,
		JWTSecret: jwtSecret,
		Meta:      meta,
		admin:     admin,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		auth := api.Group("/auth")
		{
			auth.POST("/login", s.login)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/positions", s.getPositions)
			protected.POST("/signals", s.postSignal)
			protected.POST("/orders/:id/cancel", s.cancelOrder)
			protected.PUT("/credentials/:venue", s.putCredentials)
			protected.POST("/staking/stake", s.stake)
			protected.POST("/staking/unstake", s.unstake)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"instance_id": s.Meta.InstanceID,
		"uptime":      time.Since(s.Meta.StartedAt).Round(time.Second).String(),
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
