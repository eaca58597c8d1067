package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"peerdesk-server/internal/audit"
	"peerdesk-server/internal/auth"
	"peerdesk-server/internal/handler"
	"peerdesk-server/internal/hub"
	"peerdesk-server/internal/middleware"
	"peerdesk-server/internal/store"
)

type Deps struct {
	Store       *store.Store
	Audit       audit.Recorder
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	SessionTTL  time.Duration
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.Hub == nil {
		deps.Hub = hub.New()
	}
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = 10 * time.Minute
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	createLimiter := middleware.NewRateLimiter(30, time.Minute)

	sessionHandler := &handler.SessionHandler{Store: deps.Store, Audit: deps.Audit, SessionTTL: deps.SessionTTL}
	protected.POST("/session/instant", middleware.RateLimitMiddleware(createLimiter), sessionHandler.CreateInstant)
	protected.POST("/session/join", sessionHandler.Join)
	protected.POST("/session/permanent", middleware.RateLimitMiddleware(createLimiter), sessionHandler.CreatePermanent)
	protected.POST("/session/:id/approve", sessionHandler.Approve)
	protected.DELETE("/session/:id", sessionHandler.End)
	protected.GET("/session/active", sessionHandler.ListActive)

	trustHandler := &handler.TrustHandler{Store: deps.Store, Audit: deps.Audit}
	protected.POST("/trust/add", trustHandler.Add)
	protected.GET("/trust/list", trustHandler.List)
	protected.DELETE("/trust/:id", trustHandler.Revoke)
	protected.GET("/trust/available-devices", trustHandler.AvailableDevices)

	deviceHandler := &handler.DeviceHandler{Store: deps.Store}
	protected.POST("/device/register", deviceHandler.Register)
	protected.POST("/device/heartbeat", deviceHandler.Heartbeat)
	protected.POST("/device/offline", deviceHandler.Offline)
	protected.GET("/device/list", deviceHandler.List)

	relayHandler := &handler.RelayHandler{Hub: deps.Hub, Store: deps.Store, TokenConfig: deps.TokenConfig}
	r.GET("/ws", relayHandler.Serve)

	return r
}
