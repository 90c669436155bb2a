// Package api serves the desk operations over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/desk"
)

// RouterConfig wires the router
type RouterConfig struct {
	Service *desk.Service
	Logger  *logrus.Logger
}

// NewRouter builds the gin engine with every /api/v1 route
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	h := &Handler{service: cfg.Service, logger: cfg.Logger}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	router.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		sellers := v1.Group("/sellers/:seller_id")
		sellers.POST("/sync", h.TriggerSync)
		sellers.PUT("/auto-reply", h.UpdateAutoReplySettings)
		sellers.GET("/queue", h.ListQueue)

		interactions := v1.Group("/interactions/:id")
		interactions.GET("", h.GetInteraction)
		interactions.POST("/draft", h.GenerateDraft)
		interactions.POST("/reply", h.SendReply)
		interactions.DELETE("/auto-reply", h.CancelAutoReply)
		interactions.POST("/close", h.CloseInteraction)
	}

	return router
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}
