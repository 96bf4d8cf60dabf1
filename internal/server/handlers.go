package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/realtime"
)

// HealthHandler reports that the server is up and how many sockets are live.
func HealthHandler(reg *realtime.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, fmt.Sprintf("hivechat server is running, %d connections", reg.ConnectionCount()))
	}
}

// WebSocketHandler upgrades GET /ws and hands the socket to the registry.
// A token presented at upgrade pins the connection to its user; an invalid
// token is refused before the upgrade, as is a missing one when
// RequireWSAuth is set.
func WebSocketHandler(d Deps) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(d.Config, d.Log),
	}

	return func(c *gin.Context) {
		var authUser string
		if token := auth.TokenFromRequest(c.Request); token != "" {
			claims, err := d.Issuer.Verify(token)
			if err != nil {
				d.Log.Info("websocket upgrade rejected", zap.String("addr", c.Request.RemoteAddr), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			authUser = claims.UserID
		} else if d.Config.RequireWSAuth {
			d.Log.Info("websocket upgrade rejected", zap.String("addr", c.Request.RemoteAddr), zap.String("reason", "missing token"))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			d.Log.Info("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := d.Registry.Connect(ws, realtime.ConnInfo{Addr: c.Request.RemoteAddr, AuthUserID: authUser}, d.Router)
		if conn == nil {
			d.Log.Info("connection refused during shutdown", zap.String("addr", c.Request.RemoteAddr))
		}
	}
}
