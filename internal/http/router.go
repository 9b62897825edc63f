// Package httpapi wires the HTTP transport (Gin) to the intake service,
// middleware, and route handlers. The surface is small: the webhook pair the
// channel provider calls, operational endpoints, and a bearer-gated admin
// group.
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/corkline/wa-sales-backend/internal/config"
	"github.com/corkline/wa-sales-backend/internal/http/handlers"
	"github.com/corkline/wa-sales-backend/internal/http/middleware"
)

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
//
// Middleware order:
//  1. OpenTelemetry tracing
//  2. RequestID
//  3. AccessLogger (scrubbed structured logs)
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. Per-IP rate limiter (webhook exempt)
//  8. CORS, security headers, gzip
func RegisterRoutes(r *gin.Engine, h *handlers.Handlers, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLogger(middleware.AccessLogOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, "/webhook")
	r.Use(rl.Handler())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Channel webhook pair. Payload signatures are verified before parsing.
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", middleware.VerifySignature(cfg.Channel.AppSecret), h.ReceiveWebhook)

	// Operational surface.
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Admin endpoints exist only when a token is configured.
	if cfg.AdminToken != "" {
		admin := r.Group("/admin", requireBearer(cfg.AdminToken))
		admin.GET("/conversations", h.ListConversations)
		admin.GET("/conversations/:id/messages", h.ListMessages)
		admin.POST("/catalog/reload", h.ReloadCatalog)
	}
}

// requireBearer gates a route group on a static bearer token.
func requireBearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			handlers.Fail(c, http.StatusUnauthorized, handlers.ErrCodeUnauthorized, "missing or invalid token")
			return
		}
		c.Next()
	}
}

// limitBody caps the request body for all endpoints using
// http.MaxBytesReader; reads past the cap error downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
