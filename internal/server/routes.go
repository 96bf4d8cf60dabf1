package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/api"
	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/config"
	"github.com/Tyrowin/hivechat/internal/realtime"
	"github.com/Tyrowin/hivechat/internal/store"
)

// Deps are the components the HTTP surface routes into.
type Deps struct {
	Config   config.Config
	Store    store.Store
	Issuer   *auth.Issuer
	Registry *realtime.Registry
	Router   *realtime.Router
	Log      *zap.Logger
}

// SetupRoutes builds the engine with the health check, the websocket
// endpoint and every REST route.
func SetupRoutes(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), requestLogger(d.Log))

	engine.GET("/health", HealthHandler(d.Registry))
	engine.GET("/ws", WebSocketHandler(d))
	api.New(d.Store, d.Issuer, d.Router, d.Log).Register(engine)
	return engine
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
