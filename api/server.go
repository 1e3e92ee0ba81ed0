package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// NewServer builds the HTTP surface. The /api group requires accessKey
// when one is configured; the extension endpoint authenticates with its
// own per-connection token.
func NewServer(h *Handler, accessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(requestLogger())
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key, X-Extension-Token")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	setupRoutes(r, h, accessKey)
	return r
}

func setupRoutes(r *gin.Engine, h *Handler, accessKey string) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	r.POST("/api/extension/bookings", h.CaptureExtensionBookings)

	var auth []gin.HandlerFunc
	if accessKey != "" {
		auth = append(auth, authMiddleware(accessKey))
	} else {
		log.Warn().Msg("API_ACCESS_KEY not set, /api and /ws endpoints are unauthenticated")
	}

	if h.hub != nil {
		r.GET("/ws", append(auth, gin.WrapH(h.hub))...)
	}

	api := r.Group("/api", auth...)
	{
		api.POST("/users/:user_id/sync", h.SyncUser)
		api.GET("/users/:user_id/bookings", h.ListBookings)
		api.GET("/users/:user_id/calendar.ics", h.Calendar)
		api.GET("/stats", h.Stats)
		api.GET("/runs/:run_id/logs", h.RunLogs)
		api.POST("/sync/pause", h.Pause)
		api.POST("/sync/resume", h.Resume)
	}
}

// authMiddleware accepts the key in X-API-Key, a Bearer token, or a key
// query parameter for calendar clients that cannot set headers.
func authMiddleware(accessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if provided == "" {
			provided = c.Query("key")
		}

		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(accessKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
