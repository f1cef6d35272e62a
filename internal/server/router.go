// Package server assembles the HTTP surface of the auth service.
package server

import (
	"log/slog"
	"net/http"

	"authservice/internal/metrics"
	"authservice/internal/middleware"
	"authservice/internal/modules/auth"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Deps struct {
	DB          *gorm.DB
	Auth        *auth.Service
	Metrics     *metrics.Metrics
	Log         *slog.Logger
	CORSOrigins []string
	// MetricsToken and MetricsAllowedIPs guard /metrics; either one alone
	// installs the guard.
	MetricsToken      string
	MetricsAllowedIPs []string
}

// NewRouter wires the auth routes, /healthz and /metrics.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(middleware.ErrorLogger(log), middleware.RequestLogger(log), middleware.CORS(d.CORSOrigins))

	r.GET("/healthz", healthz(d.DB))
	if d.Metrics != nil {
		handlers := []gin.HandlerFunc{gin.WrapH(d.Metrics.Handler())}
		if d.MetricsToken != "" || len(d.MetricsAllowedIPs) > 0 {
			handlers = append([]gin.HandlerFunc{middleware.InternalTokenAuth(d.MetricsToken, d.MetricsAllowedIPs, log)}, handlers...)
		}
		r.GET("/metrics", handlers...)
	}

	authHandler := auth.NewHandler(d.Auth, log)
	authHandler.RegisterPublicRoutes(r)

	protected := r.Group("")
	protected.Use(middleware.JWTAuth(d.Auth))
	{
		authHandler.RegisterProtectedRoutes(protected)
	}
	return r
}

func healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
