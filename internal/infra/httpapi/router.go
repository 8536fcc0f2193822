package httpapi

import (
	"net/http"
	"strings"
	"time"

	"workflow_digest/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	requestIDHeader = "X-Request-ID"
	adminTokenKey   = "admin_token"
)

// NewRouter builds the admin HTTP surface: health, metrics and the
// operator-only digest triggers.
func NewRouter(admin *app.AdminService, logger *logrus.Entry) *gin.Engine {
	h := NewHandler(admin, logger)

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(logger.WithField("component", "http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	adm := r.Group("/admin", bearerToken())
	{
		adm.POST("/digest/run", h.RunDigest)
		adm.POST("/digest/dispatch", h.Dispatch)
		adm.GET("/digest/pending", h.Pending)
		adm.POST("/comments", h.RecordComment)
		adm.POST("/notifications/reset", h.Reset)
	}
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDHeader, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func requestLogger(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"request_id": c.GetString(requestIDHeader),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}

// bearerToken extracts the admin token; AdminService decides whether it is valid.
func bearerToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Admin-Token")
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
		c.Set(adminTokenKey, token)
		c.Next()
	}
}
