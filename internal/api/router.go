package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/health"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/middleware"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/ratelimit"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/tracing"
)

type RouterOptions struct {
	Tracing   bool
	RateLimit *ratelimit.Limiter
	Health    *health.CheckerRegistry
}

// NewRouter builds the gin engine with the shared middleware chain, the
// health and metrics endpoints and the case-management routes.
func NewRouter(h *Handler, opts RouterOptions, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if opts.Tracing {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))

	router.GET("/health", healthHandler(opts.Health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes := router.Group("")
	if opts.RateLimit != nil {
		routes.Use(opts.RateLimit.Middleware())
		log.InfowCtx(context.Background(), "Rate limiting enabled")
	}
	h.RegisterRoutes(routes)

	return router
}

func healthHandler(registry *health.CheckerRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if registry == nil {
			c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
			return
		}
		h := registry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	}
}
