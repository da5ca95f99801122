package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/abrino/abrinostore/auth"
	"github.com/abrino/abrinostore/cache"
	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/config"
	"github.com/abrino/abrinostore/controllers"
	"github.com/abrino/abrinostore/gateway"
	"github.com/abrino/abrinostore/ingest"
	"github.com/abrino/abrinostore/middleware"
	"github.com/abrino/abrinostore/models"
	"github.com/abrino/abrinostore/utils"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	DB          *gorm.DB
	Catalog     *catalog.Catalog
	Issuer      *auth.Issuer
	Coordinator *ingest.Coordinator
	Gateway     *gateway.Gateway
	Cache       *cache.Cache
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(deps Deps) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(utils.Ginzap(utils.Logger))
	r.Use(utils.RecoveryWithZap(utils.Logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.FrontendURL == "" || cfg.FrontendURL == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.FrontendURL}
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authController := controllers.NewAuthController(deps.Catalog, deps.Issuer, deps.Gateway)
	fileController := controllers.NewFileController(deps.Catalog, deps.Coordinator, deps.Gateway, deps.Cache)
	adminController := controllers.NewAdminController(deps.Catalog, deps.DB)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/magic-link", authController.RequestMagicLink)
	authGroup.POST("/magic-link/verify", authController.VerifyMagicLink)

	authed := middleware.AuthRequired(deps.Issuer, deps.Catalog)
	authGroup.POST("/logout", authed, authController.Logout)
	authGroup.GET("/me", authed, authController.Me)
	authGroup.POST("/link-telegram", authed, authController.LinkTelegram)
	authGroup.PATCH("/2fa", authed, authController.SetTwoFA)

	// Category taxonomy is public and static.
	api.GET("/categories", func(ctx *gin.Context) {
		utils.Success(ctx, models.Categories)
	})

	files := api.Group("/files")
	files.Use(authed, middleware.RateLimitMiddleware())
	files.POST("", fileController.Upload)
	files.GET("", fileController.List)
	files.GET("/recent", fileController.Recent)
	files.GET("/categories", fileController.Categories)
	files.GET("/:id", fileController.Get)
	files.GET("/:id/download", fileController.Download)
	files.PATCH("/:id", fileController.Update)
	files.DELETE("/:id", fileController.Delete)

	admin := api.Group("/admin")
	admin.Use(authed, middleware.AdminRequired())
	admin.GET("/users", adminController.ListUsers)
	admin.POST("/users/:id/deactivate", adminController.DeactivateUser)
	admin.DELETE("/users/:id", adminController.DeleteUser)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
