package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"msgvault-backend/internal/services/health"
	"msgvault-backend/internal/shared/config"
	"msgvault-backend/internal/shared/metrics"
	"msgvault-backend/internal/shared/server/middleware"
	"msgvault-backend/internal/shared/server/respond"
	"msgvault-backend/internal/shared/storage/object/local"
)

const apiBase = "/api/v1"

// RouteRegistrar attaches a domain's routes to the API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Config   config.Config
	Verifier middleware.TokenVerifier
	Health   *health.Service
	Handlers []RouteRegistrar
	// Now is used by the rate limiter; defaults to time.Now.
	Now func() time.Time
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if !config.IsDevLike(cfg.Env) {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	rateRPS := cfg.RateLimitRPS
	if rateRPS <= 0 {
		rateRPS = 5
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
		middleware.Auth(middleware.AuthConfig{
			Env:       cfg.Env,
			Verifier:  deps.Verifier,
			BotAPIKey: cfg.BotAPIKey,
			PublicPaths: []string{
				apiBase + "/health",
				"/metrics",
				local.LinkPath,
			},
		}),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: "DEFAULT",
			GroupFor:     rateGroup,
			Limiter:      middleware.NewRateLimiter(now),
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT": {Rate: rateRPS, Burst: burst},
				// The bot forwards bursts of media from group chats.
				middleware.IngestRateLimitGroup: {Rate: rateRPS * 10, Burst: burst * 5},
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group(apiBase)
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true, "checks": gin.H{}})
			return
		}
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	for _, h := range deps.Handlers {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}

	return r
}

func rateGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/messages") {
		return middleware.IngestRateLimitGroup
	}
	return "DEFAULT"
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
