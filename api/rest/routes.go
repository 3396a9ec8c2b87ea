package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterRoutes mounts the API under /api. stream, when set, serves
// the book websocket at /api/ws/book.
func RegisterRoutes(router *gin.Engine, h *OrderHandler, stream http.Handler) {
	api := router.Group("/api")
	{
		api.POST("/orders", h.PlaceOrder)
		api.DELETE("/orders/:id", h.CancelOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.GET("/orders/:id/history", h.GetHistory)
		api.GET("/books/:symbol", h.GetBook)
		if stream != nil {
			api.GET("/ws/book", gin.WrapH(stream))
		}
	}
}

// NewRouter builds a gin engine with recovery and zap request logging.
func NewRouter(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
