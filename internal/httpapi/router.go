// Package httpapi exposes the attendance and account services over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"instaq/internal/attendance"
	"instaq/internal/auth"
	"instaq/internal/httpmiddleware"
	"instaq/internal/logging"
	"instaq/internal/metrics"
	"instaq/internal/users"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps is everything the router needs.
type Deps struct {
	Attendance *attendance.Service
	Users      *users.Service
	Revoker    auth.Revoker
	SigningKey string
	Issuer     string

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Health   map[string]HealthCheck

	// RateLimitPerMin disables the limiter when <= 0.
	RateLimitPerMin int
	Logger          *slog.Logger
}

type handlers struct {
	attendance *attendance.Service
	users      *users.Service
	logger     *slog.Logger
}

// New builds the gin engine with every route mounted.
func New(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{attendance: d.Attendance, users: d.Users, logger: d.Logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
	}))
	r.Use(requestLogger(d.Logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:   []string{"X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	if d.Metrics != nil {
		r.Use(httpmiddleware.RequestMetrics(d.Metrics))
	}

	r.GET("/health", health(d.Health))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	authn := auth.Authenticate(d.SigningKey, d.Issuer, d.Revoker, d.Users)
	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if d.RateLimitPerMin > 0 {
		limit = httpmiddleware.NewSimpleTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin).
			GinMiddlewareBy(httpmiddleware.PrincipalKey)
	}

	accounts := api.Group("/auth")
	accounts.POST("/register", limit, h.register)
	accounts.POST("/login", limit, h.login)
	accounts.POST("/refresh", limit, h.refresh)
	accounts.GET("/me", authn, limit, h.me)
	accounts.POST("/logout", authn, limit, h.logout)

	att := api.Group("/attendance", authn, limit)
	att.POST("/scan", h.scan)
	att.GET("", h.list)
	att.GET("/stats", h.stats)
	att.GET("/:id", h.get)
	att.PUT("/:id/status", h.updateStatus)
	att.DELETE("/:id", h.remove)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Route not found"})
	})
	return r
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := gin.H{"status": "ok"}
		for name, check := range checks {
			up := check(ctx)
			body[name] = up
			if !up {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}

// requestLogger tags each request with an id and stores a scoped logger in
// the request context.
func requestLogger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		logger := base.With("request_id", id)
		c.Request = c.Request.WithContext(logging.ContextWithLogger(c.Request.Context(), logger))
		c.Next()
	}
}
