package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/openmined/syftsync/internal/server/auth"
	"github.com/openmined/syftsync/internal/server/middlewares"
	syncsvc "github.com/openmined/syftsync/internal/server/sync"
	"github.com/openmined/syftsync/internal/version"
)

func SetupRoutes(config *Config, authSvc *auth.Service, syncSvc *syncsvc.Service) http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))
	r.Use(cors.Default())
	r.Use(middlewares.RateLimiter(config.RateLimit))
	if config.HTTP.CertFile != "" {
		r.Use(middlewares.HSTS())
	}

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	authH := auth.NewHandler(authSvc)
	r.POST("/auth/request_email_token", authH.RequestEmailToken)
	r.POST("/auth/validate_email_token", authH.ValidateEmailToken)
	r.POST("/auth/refresh", authH.Refresh)

	authed := r.Group("/")
	authed.Use(middlewares.JWTAuth(authSvc))
	{
		authed.GET("/auth/whoami", authH.Whoami)
		authed.POST("/register", registerHandler(syncSvc))

		syncsvc.NewHandler(syncSvc).RegisterRoutes(authed.Group("/sync"))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	return r.Handler()
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{"status": "ok"})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
