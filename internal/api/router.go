package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/api/handlers"
	"github.com/craftora/domain-gateway/internal/api/middleware"
	"github.com/craftora/domain-gateway/internal/config"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	Domains *handlers.DomainHandler
	Resolve *handlers.ResolveHandler
	Logger  *zap.Logger
}

func NewServer(cfg *config.Config, domains *handlers.DomainHandler, resolve *handlers.ResolveHandler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		Domains: domains,
		Resolve: resolve,
		Logger:  logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Liveness and scrape endpoints
	s.Router.GET("/health", handlers.HealthCheck)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Tenant API (protected)
	api := s.Router.Group("/api/v1")
	api.Use(middleware.AuthRequired(s.Config.JWTSecret))
	{
		api.GET("/domains", s.Domains.ListDomains)
		api.POST("/domains", s.Domains.CreateDomain)
		api.GET("/domains/quota", s.Domains.GetQuota)
		api.GET("/domains/:id", s.Domains.GetDomain)
		api.PATCH("/domains/:id", s.Domains.UpdateDomain)
		api.DELETE("/domains/:id", s.Domains.DeleteDomain)

		api.POST("/domains/:id/verify", s.Domains.VerifyDomain)
		api.POST("/domains/:id/verification", s.Domains.RestartVerification)

		api.GET("/domains/:id/certificate", s.Domains.GetCertificate)
		api.POST("/domains/:id/certificate", s.Domains.UploadCertificate)
		api.POST("/domains/:id/certificate/renew", s.Domains.RenewCertificate)

		api.GET("/domains/:id/health", s.Domains.CheckHealth)
		api.GET("/domains/:id/analytics", s.Domains.GetAnalytics)
	}

	// Edge-facing API (shared service token)
	internal := s.Router.Group("/internal/v1")
	internal.Use(middleware.InternalAuth(s.Config.ServiceToken))
	{
		internal.GET("/resolve", s.Resolve.Resolve)
		internal.POST("/traffic", s.Resolve.ReportTraffic)
	}
}
