package tracing

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func GinMiddleware(serviceName string) gin.HandlerFunc {
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	return otelgin.Middleware(serviceName)
}
