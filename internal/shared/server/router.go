package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	"civicease-backend/internal/session"
	"civicease-backend/internal/shared/config"
	"civicease-backend/internal/shared/server/middleware"
	"civicease-backend/internal/shared/server/respond"
)

// modelRateGroup throttles the endpoints that spend model-provider credit.
const modelRateGroup = "MODEL"

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(cfg config.Config, sessionHandler *session.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				modelRateGroup: {Rate: 0.5, Burst: 3},
			},
			GroupFor: modelGroupFor,
		}),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.OK(c, gin.H{"ok": true})
	})
	sessionHandler.RegisterRoutes(api)

	return r
}

func modelGroupFor(c *gin.Context) string {
	path := c.Request.URL.Path
	if strings.HasSuffix(path, "/session/analyze") || strings.HasSuffix(path, "/session/chat") {
		return modelRateGroup
	}
	return ""
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
