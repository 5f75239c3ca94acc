package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kvsync/backend/internal/service"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Auth           *service.AuthService
	Store          Pinger
	Metrics        http.Handler
	Logger         logrus.FieldLogger
	AllowedOrigins []string
}

// NewRouter builds the gin engine with every public route registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Logger != nil {
		router.Use(RequestLogger(cfg.Logger))
	}
	router.Use(CORSMiddleware(cfg.AllowedOrigins, true))

	router.GET("/ping", Ping)
	if cfg.Store != nil {
		router.GET("/healthz", Healthz(cfg.Store))
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	authHandler := NewAuthHandler(cfg.Auth)
	api := router.Group("/api")
	{
		api.POST("/login", authHandler.Login)
		api.POST("/logout", authHandler.Logout)
		api.POST("/refresh-token", authHandler.Refresh)
		api.POST("/admin/force-relogin", authHandler.ForceRelogin)
		api.GET("/admin/sessions", authHandler.Sessions)
	}

	protected := router.Group("/api")
	protected.Use(AuthMiddleware(cfg.Auth))
	{
		protected.GET("/me", authHandler.Me)
	}

	return router
}
