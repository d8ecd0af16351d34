package api

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/snapmatch/internal/api/handlers"
	"github.com/your-org/snapmatch/internal/api/ws"
	"github.com/your-org/snapmatch/internal/auth"
	"github.com/your-org/snapmatch/internal/guest"
	"github.com/your-org/snapmatch/internal/storage"
)

type RouterConfig struct {
	APIKey      string
	CORSOrigins []string

	Store       storage.Store
	Signer      handlers.URLSigner
	Coordinator handlers.Coordinator
	Deleter     handlers.FolderDeleter
	Matcher     handlers.SelfieMatcher
	Sessions    *guest.Registry
	Hub         *ws.Hub
	Checks      map[string]handlers.Check

	GuestLimiter    *RateLimiter
	MatchURLExpiry  time.Duration
	MaxSelfieBytes  int64
	RegisterTimeout time.Duration
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(corsMiddleware(cfg.CORSOrigins))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Photographer API (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireKey(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	folderH := handlers.NewFolderHandler(cfg.Store, cfg.Deleter)
	v1.POST("/folders", folderH.Create)
	v1.GET("/folders", folderH.List)
	v1.GET("/folders/:id", folderH.Get)
	v1.PUT("/folders/:id", folderH.Update)
	v1.DELETE("/folders/:id", folderH.Delete)
	v1.DELETE("/folders/:id/photos", folderH.DeletePhoto)

	uploadH := handlers.NewUploadHandler(cfg.Coordinator, cfg.RegisterTimeout)
	v1.POST("/uploads/slots", uploadH.Slots)
	v1.POST("/folders/:id/photos", uploadH.Register)

	// Guest API (no auth, rate limited)
	g := r.Group("/v1/guest")
	if cfg.GuestLimiter != nil {
		g.Use(cfg.GuestLimiter.Middleware())
	}

	guestH := handlers.NewGuestHandler(cfg.Matcher, cfg.Sessions, cfg.Store, cfg.Signer, cfg.MatchURLExpiry, cfg.MaxSelfieBytes)
	g.POST("/folders/:id/match", guestH.Match)
	g.POST("/folders/:id/sessions", guestH.StartSession)
	g.GET("/sessions/:sid", guestH.GetSession)
	g.PUT("/sessions/:sid/selfie", guestH.Capture)
	g.POST("/sessions/:sid/retake", guestH.Retake)
	g.POST("/sessions/:sid/confirm", guestH.Confirm)
	g.POST("/sessions/:sid/restart", guestH.Restart)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	cfg.AddAllowHeaders(auth.Header)
	return cors.New(cfg)
}
