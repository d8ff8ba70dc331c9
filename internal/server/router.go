package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RouterDependencies collects handler dependencies.
type RouterDependencies struct {
	Health           HealthService
	Handlers         *Handlers
	Hub              *Hub
	AllowedOrigins   []string
	AllowCredentials bool
}

// NewRouter wires the routes of the view server.
func NewRouter(logger *slog.Logger, deps RouterDependencies) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery(), loggingMiddleware(logger))
	if len(deps.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(deps.AllowedOrigins, deps.AllowCredentials))
	}

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		payload := gin.H{"status": "ok"}
		if deps.Health != nil {
			if err := deps.Health.Probe(ctx); err != nil {
				logger.Error("health probe failed", "error", err)
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				payload["error"] = err.Error()
			}
		}
		c.JSON(status, payload)
	})

	if deps.Hub != nil {
		r.GET("/ws/session", deps.Hub.Serve)
	}

	h := deps.Handlers
	if h == nil {
		return r
	}

	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.POST("/register", h.Register)
		auth.PATCH("/verify-email", h.VerifyEmail)
		auth.GET("/session", h.Session)
		auth.GET("/me", h.Me)
	}

	data := r.Group("/country-data")
	{
		data.GET("", h.YearView)
		data.GET("/years", h.Years)
		data.GET("/trend", h.Trend)
		data.GET("/countries", h.Countries)
		data.GET("/legend", h.Legend)
		data.GET("/export", h.Export)
		data.POST("/import", h.Import)
		data.DELETE("", h.DeleteAll)
		data.DELETE("/years/:year", h.DeleteByYear)
		data.DELETE("/countries/:name", h.DeleteByCountry)
		data.POST("/delete-selected", h.DeleteSelected)
	}

	startups := r.Group("/startups")
	{
		startups.GET("", h.Directory)
		startups.GET("/pending", h.Pending)
		startups.POST("", h.CreateStartup)
		startups.POST("/bulk", h.BulkUploadStartups)
		startups.DELETE("/:id", h.DeleteStartup)
		startups.PATCH("/:id/verify", h.VerifyStartup)
		startups.PATCH("/bulk-verify", h.BulkApprove)
		startups.PATCH("/approve-each", h.ApproveEach)
	}

	users := r.Group("/users")
	{
		users.GET("", h.Users)
		users.GET("/unverified", h.UnverifiedUsers)
		users.POST("", h.CreateUser)
		users.PATCH("/:id/verify", h.VerifyUser)
		users.PATCH("/:id", h.UpdateUser)
		users.DELETE("/:id", h.DeleteUser)
	}

	r.GET("/news", h.News)
	r.GET("/debug/cache", h.CacheState)
	return r
}

func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func corsMiddleware(allowedOrigins []string, allowCredentials bool) gin.HandlerFunc {
	normalized := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		normalized[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || (!containsOrigin(normalized, origin) && !containsOrigin(normalized, "*")) {
			if c.Request.Method == http.MethodOptions {
				// Reject bare pre-flight if origin is not whitelisted.
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Add("Vary", "Origin")
		if allowCredentials {
			header.Set("Access-Control-Allow-Credentials", "true")
		}
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func containsOrigin(set map[string]struct{}, origin string) bool {
	_, ok := set[origin]
	return ok
}
