package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pz26/confpass/config"
	"github.com/pz26/confpass/internal/auth"
	"github.com/pz26/confpass/internal/middleware"
	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/realtime"
	"github.com/pz26/confpass/internal/registrations"
	"github.com/pz26/confpass/internal/stats"
	"github.com/pz26/confpass/pkg/response"
)

// passExports is the object storage side of pass export.
type passExports interface {
	registrations.ExportLinks
	registrations.ExportRemover
}

type deps struct {
	cfg         *config.Config
	logger      *zap.Logger
	jwt         *auth.JWTService
	revocations auth.Revocations
	users       auth.UserStore
	store       registrations.AdminStore
	counts      *stats.Service
	// hub serves the live participant feed; nil disables the endpoint.
	hub      *realtime.Hub
	renderer registrations.PassRenderer
	// exportQueue and exports are nil when pass export is not configured.
	exportQueue registrations.ExportQueue
	exports     passExports
}

func newRouter(d deps) *gin.Engine {
	authHandler := auth.NewHandler(d.users, d.jwt, d.revocations, d.logger)

	registrationSvc := registrations.NewService(d.store, d.cfg.Event.AuthProvider, d.logger)
	registrationHandler := registrations.NewHandler(registrationSvc, d.store, d.counts, d.logger)
	var links registrations.ExportLinks
	if d.exports != nil {
		registrationHandler.WithExportRemover(d.exports)
		links = d.exports
	}
	passHandler := registrations.NewPassHandler(registrationHandler, d.renderer, d.exportQueue, links)

	statsHandler := stats.NewHandler(d.counts, d.logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(d.cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(d.logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stats/participants", statsHandler.Participants)
	if d.hub != nil {
		router.GET("/stats/participants/live", realtime.ServeWs(d.hub, d.counts.Participants, d.logger))
	}

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/signup", authHandler.Signup)
		authGroup.POST("/login", authHandler.Login)
	}

	api := router.Group("")
	api.Use(middleware.JWT(d.jwt, d.revocations, d.logger))
	{
		api.POST("/auth/logout", authHandler.Logout)

		api.POST("/registrations", registrationHandler.Register)
		api.GET("/registrations", registrationHandler.FindByEmail)
		api.GET("/registrations/:regId", registrationHandler.Get)
		api.DELETE("/registrations/:regId", middleware.RequireRole(models.RoleAdmin), registrationHandler.Delete)
		api.GET("/registrations/:regId/pass.png", passHandler.QR)
		api.POST("/registrations/:regId/export", passHandler.RequestExport)
		api.GET("/registrations/:regId/export", passHandler.ExportLink)
	}

	return router
}

var (
	_ registrations.CountInvalidator = (*stats.Service)(nil)
	_ stats.Feed                     = (*realtime.Hub)(nil)
)
