package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/config"
)

// originChecker returns the upgrader's CheckOrigin for cfg's allow-list.
func originChecker(cfg config.Config, log *zap.Logger) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if cfg.OriginAllowed(origin) {
			return true
		}
		log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", origin))
		return false
	}
}
